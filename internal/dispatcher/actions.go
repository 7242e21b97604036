package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/google/uuid"
)

const (
	msgAssistantUnavailable = "Lo siento, no puedo responder en este momento. Por favor, intenta más tarde."
	msgNoProducts           = "No encontré productos que coincidan con tu búsqueda."
	msgNoGuarantees         = "No tienes garantías registradas."
	msgNoSchedule           = "Aún no tenemos horarios publicados."
)

func (d *Dispatcher) consultCatalog(ctx context.Context, call actionCall, _ *Result) models.ActionResult {
	cmd := models.CommandConsultCatalog
	filter := models.ProductFilter{
		Query:    paramString(call.params, "query"),
		Category: paramString(call.params, "category"),
		Brand:    paramString(call.params, "brand"),
		MinPrice: paramFloatPtr(call.params, "min_price"),
		MaxPrice: paramFloatPtr(call.params, "max_price"),
		InStock:  paramBool(call.params, "in_stock"),
		Limit:    d.catalogLimit(call.params),
	}
	products, err := d.repos.SearchProducts(ctx, filter)
	if err != nil {
		slog.Error("Dispatcher.consultCatalog: search failed", "userID", call.userID, "error", err)
		return failure(cmd, fmt.Sprintf("failed to search products: %v", err))
	}
	if currency := strings.ToUpper(paramString(call.params, "currency")); currency != "" {
		products = d.convertPrices(ctx, products, currency)
	}
	if len(products) == 0 {
		return success(cmd, products, models.TextMessage(call.chatID, msgNoProducts))
	}
	return success(cmd, products, models.TextMessage(call.chatID, formatProducts(products)))
}

func (d *Dispatcher) catalogLimit(params map[string]any) int {
	limit, ok := paramInt(params, "limit")
	if !ok || limit <= 0 {
		return d.opts.DefaultLimit
	}
	if limit > d.opts.MaxLimit {
		return d.opts.MaxLimit
	}
	return limit
}

// convertPrices converts every product price into currency. A failed lookup
// leaves that product in its base currency.
func (d *Dispatcher) convertPrices(ctx context.Context, products []models.Product, currency string) []models.Product {
	if d.opts.Rates == nil {
		return products
	}
	rates := map[string]float64{}
	out := make([]models.Product, len(products))
	for i, p := range products {
		out[i] = p
		if strings.EqualFold(p.Currency, currency) {
			continue
		}
		rate, ok := rates[p.Currency]
		if !ok {
			r, err := d.opts.Rates.Rate(ctx, p.Currency, currency)
			if err != nil {
				slog.Warn("Dispatcher.convertPrices: rate lookup failed", "from", p.Currency, "to", currency, "error", err)
				continue
			}
			rate = r
			rates[p.Currency] = r
		}
		out[i].Price = math.Round(p.Price*rate*100) / 100
		out[i].Currency = currency
	}
	return out
}

func (d *Dispatcher) consultGuarantees(ctx context.Context, call actionCall, _ *Result) models.ActionResult {
	cmd := models.CommandConsultGuarantees
	userID := paramString(call.params, "user_id")
	if userID == "" {
		return failure(cmd, "missing required parameter user_id")
	}
	if userID != call.userID {
		return failure(cmd, "user_id does not match the requesting user")
	}
	list, err := d.repos.ListGuaranteesByUser(ctx, userID)
	if err != nil {
		slog.Error("Dispatcher.consultGuarantees: lookup failed", "userID", userID, "error", err)
		return failure(cmd, fmt.Sprintf("failed to list guarantees: %v", err))
	}
	if len(list) == 0 {
		return success(cmd, list, models.TextMessage(call.chatID, msgNoGuarantees))
	}
	return success(cmd, list, models.TextMessage(call.chatID, formatGuarantees(list)))
}

// registerGuarantee makes sure the user has an active conversation to track the
// claim under, then asks the caller to start the guarantee flow.
func (d *Dispatcher) registerGuarantee(ctx context.Context, call actionCall, res *Result) models.ActionResult {
	cmd := models.CommandRegisterGuarantee
	conv, err := d.ensureConversation(ctx, call.userID)
	if err != nil {
		slog.Error("Dispatcher.registerGuarantee: failed to open conversation", "userID", call.userID, "error", err)
		return failure(cmd, fmt.Sprintf("failed to open conversation: %v", err))
	}
	res.StartGuarantee = true
	return success(cmd, map[string]any{"conversation_id": conv.ID})
}

func (d *Dispatcher) ensureConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := d.repos.GetActiveConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	conv = &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: d.opts.Now().UTC(),
		Status:    models.ConversationStatusActive,
	}
	if err := d.repos.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrActiveConversationExists) {
			return d.repos.GetActiveConversation(ctx, userID)
		}
		return nil, err
	}
	return conv, nil
}

func (d *Dispatcher) consultSchedule(ctx context.Context, call actionCall, _ *Result) models.ActionResult {
	cmd := models.CommandConsultSchedule
	schedules, err := d.repos.ListSchedules(ctx)
	if err != nil {
		return failure(cmd, fmt.Sprintf("failed to load schedules: %v", err))
	}
	if len(schedules) == 0 {
		return success(cmd, schedules, models.TextMessage(call.chatID, msgNoSchedule))
	}
	return success(cmd, schedules, models.TextMessage(call.chatID, formatSchedules(schedules)))
}

func (d *Dispatcher) sendGeolocation(ctx context.Context, call actionCall, _ *Result) models.ActionResult {
	cmd := models.CommandSendGeolocation
	loc, err := d.repos.GetStoreLocation(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failure(cmd, "store location not configured")
		}
		return failure(cmd, fmt.Sprintf("failed to load store location: %v", err))
	}
	return success(cmd, loc, models.TextMessage(call.chatID, formatLocation(loc)))
}

func (d *Dispatcher) sendImage(ctx context.Context, call actionCall, _ *Result) models.ActionResult {
	cmd := models.CommandSendImage
	id := paramString(call.params, "product_id")
	if id == "" {
		return failure(cmd, "missing required parameter product_id")
	}
	p, err := d.repos.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failure(cmd, fmt.Sprintf("product %s not found", id))
		}
		return failure(cmd, fmt.Sprintf("failed to load product: %v", err))
	}
	ref := paramString(call.params, "photo_ref")
	if ref == "" {
		ref = p.ImageRef
	}
	if ref == "" {
		return failure(cmd, fmt.Sprintf("product %s has no image", id))
	}
	caption := fmt.Sprintf("%s - %s", p.Name, formatPrice(p.Price, p.Currency))
	return success(cmd, p, models.PhotoMessage(call.chatID, ref, caption))
}

// endConversation ends the user's active conversation. An already ended
// conversation is not an error.
func (d *Dispatcher) endConversation(ctx context.Context, call actionCall, res *Result) models.ActionResult {
	cmd := models.CommandEndConversation
	conv, err := d.repos.GetActiveConversation(ctx, call.userID)
	if err != nil {
		return failure(cmd, fmt.Sprintf("failed to load conversation: %v", err))
	}
	if conv == nil {
		return failure(cmd, "no active conversation")
	}
	ended, err := d.repos.EndConversation(ctx, conv.ID, d.opts.Now().UTC())
	if err != nil {
		return failure(cmd, fmt.Sprintf("failed to end conversation: %v", err))
	}
	res.EndedConversationID = conv.ID
	return success(cmd, map[string]any{"conversation_id": conv.ID, "ended": ended})
}
