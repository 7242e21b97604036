package dispatcher

import (
	"fmt"
	"strings"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

func formatPrice(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}

func formatProducts(products []models.Product) string {
	var b strings.Builder
	b.WriteString("Estos son los productos que encontré:\n")
	for i, p := range products {
		fmt.Fprintf(&b, "\n%d. %s", i+1, p.Name)
		if p.Brand != "" {
			fmt.Fprintf(&b, " (%s)", p.Brand)
		}
		fmt.Fprintf(&b, " - %s", formatPrice(p.Price, p.Currency))
		if p.Stock <= 0 {
			b.WriteString(" [sin stock]")
		}
	}
	return b.String()
}

func formatGuarantees(list []models.Guarantee) string {
	var b strings.Builder
	b.WriteString("Tus garantías registradas:\n")
	for _, g := range list {
		fmt.Fprintf(&b, "\n• %s - factura %s - estado: %s (%s)", g.ID, g.InvoiceNumber, g.Status, g.CreatedAt.Format("02/01/2006"))
	}
	return b.String()
}

func formatSchedules(schedules []models.Schedule) string {
	var b strings.Builder
	b.WriteString("Nuestro horario de atención:\n")
	for _, s := range schedules {
		if s.Closed {
			fmt.Fprintf(&b, "\n%s: cerrado", s.DayName)
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s - %s", s.DayName, s.OpensAt, s.ClosesAt)
	}
	return b.String()
}

func formatLocation(loc *models.StoreLocation) string {
	return fmt.Sprintf("📍 %s\n%s\nhttps://maps.google.com/?q=%.6f,%.6f", loc.Name, loc.Address, loc.Latitude, loc.Longitude)
}
