package assistant

import "github.com/GODE-Organization/test-chatbot-sub000/internal/models"

// Session data keys set on fallback replies.
const (
	SessionKeyFallback       = "fallback"
	SessionKeyFallbackReason = "fallback_reason"
)

var fallbackTexts = map[Category]string{
	CategoryOverloaded:      "Nuestro asistente está recibiendo muchas consultas en este momento. Por favor, intenta de nuevo en unos minutos.",
	CategoryRateLimited:     "Estamos atendiendo muchas solicitudes. Espera un momento y vuelve a escribirnos, por favor.",
	CategoryQuota:           "El asistente no está disponible temporalmente. Un agente revisará tu consulta lo antes posible.",
	CategoryTimeout:         "La respuesta está tardando más de lo normal. ¿Podrías repetir tu consulta en unos instantes?",
	CategoryInvalidResponse: "No pude procesar tu consulta correctamente. ¿Podrías reformularla?",
}

const defaultFallbackText = "Lo siento, tuve un problema al procesar tu mensaje. Por favor, intenta de nuevo más tarde."

// Fallback builds the canned response used when the assistant cannot answer.
// The caller's session data is carried over with fallback flags added.
func Fallback(err error, sessionData map[string]any) *models.AssistantResponse {
	cat := CategoryOf(err)
	text, ok := fallbackTexts[cat]
	if !ok {
		text = defaultFallbackText
	}
	data := make(map[string]any, len(sessionData)+2)
	for k, v := range sessionData {
		data[k] = v
	}
	data[SessionKeyFallback] = true
	data[SessionKeyFallbackReason] = string(cat)
	return &models.AssistantResponse{
		Response:    models.AssistantReply{Text: text},
		Actions:     []models.Action{},
		SessionData: data,
	}
}
