// Package survey sends the post-conversation satisfaction prompt and records ratings.
package survey

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

// CallbackPrefix marks callback data carrying a rating.
const CallbackPrefix = "survey_rating_"

const (
	msgPrompt       = "¡Gracias por contactarnos! 🙌\n\n¿Cómo calificarías la atención recibida? Selecciona una opción del 1 al 5."
	msgUseButtons   = "Por favor califica la atención usando los botones del 1 al 5. ⭐"
	msgInvalidValue = "Esa calificación no es válida. Elige un número del 1 al 5."
	escalationHint  = "\n\nSi necesitas hablar con una persona de nuestro equipo, escribe *agente* y te contactaremos."
)

var acknowledgements = map[int]string{
	1: "Lamentamos mucho que tu experiencia no haya sido buena. 😞 Tomaremos en cuenta tu opinión para mejorar.",
	2: "Gracias por tu sinceridad. Sentimos no haber cumplido tus expectativas y trabajaremos para mejorar.",
	3: "Gracias por tu calificación. Seguiremos esforzándonos para darte una mejor atención.",
	4: "¡Gracias! Nos alegra que la atención haya sido buena. 😊",
	5: "¡Excelente! Muchas gracias por tu calificación. ¡Esperamos verte pronto! 🌟",
}

// Acknowledgement returns the reply for a valid rating.
func Acknowledgement(rating int) string {
	msg := acknowledgements[rating]
	if rating <= 2 {
		msg += escalationHint
	}
	return msg
}

// Result is the outcome of ProcessResponse.
type Result struct {
	Accepted bool
	Outbound models.OutboundActions
}

// Engine sends rating prompts and records responses.
type Engine struct {
	repo store.SurveyRepo
	now  func() time.Time
}

// NewEngine creates an Engine persisting ratings to repo.
func NewEngine(repo store.SurveyRepo) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// RatingChoices returns the five rating options.
func RatingChoices() []models.Choice {
	choices := make([]models.Choice, 0, models.MaxRating)
	for r := models.MinRating; r <= models.MaxRating; r++ {
		choices = append(choices, models.Choice{
			Label: strings.Repeat("⭐", r),
			Data:  CallbackPrefix + strconv.Itoa(r),
		})
	}
	return choices
}

// SendPrompt moves the session into survey_waiting for the conversation and returns the prompt.
func (e *Engine) SendPrompt(s *models.Session, chatID, conversationID string) models.OutboundActions {
	s.BeginSurvey(conversationID, e.now().UTC())
	slog.Info("survey.Engine.SendPrompt: survey sent", "userID", s.UserID, "conversationID", conversationID)
	return models.OutboundActions{models.ChoiceMessage(chatID, msgPrompt, RatingChoices())}
}

// IsWaiting reports whether the session is waiting for a rating.
func IsWaiting(s *models.Session) bool {
	if s == nil || s.State != models.SessionStateSurveyWaiting {
		return false
	}
	sv, ok := s.Flow.Survey()
	return ok && sv.WaitingForRating
}

// IsRatingCallback reports whether data is a survey callback.
func IsRatingCallback(data string) bool {
	return strings.HasPrefix(data, CallbackPrefix)
}

// ParseCallback extracts the rating from callback data.
func ParseCallback(data string) (int, error) {
	if !IsRatingCallback(data) {
		return 0, fmt.Errorf("not a survey callback: %q", data)
	}
	rating, err := strconv.Atoi(strings.TrimPrefix(data, CallbackPrefix))
	if err != nil {
		return 0, fmt.Errorf("invalid survey rating %q: %w", data, err)
	}
	return rating, nil
}

// RejectText is the reply to free text while waiting for a rating.
func RejectText(chatID string) models.OutboundActions {
	return models.OutboundActions{models.ChoiceMessage(chatID, msgUseButtons, RatingChoices())}
}

// ProcessResponse records a rating and returns the session to idle.
// Out-of-range ratings are rejected and leave the session waiting.
// A persistence failure is logged and the user is still acknowledged.
func (e *Engine) ProcessResponse(ctx context.Context, s *models.Session, chatID string, rating int) Result {
	if !models.ValidRating(rating) {
		slog.Debug("survey.Engine.ProcessResponse: rating out of range", "userID", s.UserID, "rating", rating)
		return Result{Outbound: models.OutboundActions{models.TextMessage(chatID, msgInvalidValue)}}
	}
	sv, ok := s.Flow.Survey()
	if !ok {
		slog.Warn("survey.Engine.ProcessResponse: no survey in progress", "userID", s.UserID)
		return Result{}
	}

	record := &models.Survey{
		UserID:         s.UserID,
		ConversationID: sv.ConversationID,
		Rating:         rating,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.repo.CreateSurvey(ctx, record); err != nil {
		slog.Error("survey.Engine.ProcessResponse: failed to persist survey", "userID", s.UserID, "conversationID", sv.ConversationID, "error", err)
	} else {
		slog.Info("survey.Engine.ProcessResponse: rating recorded", "userID", s.UserID, "conversationID", sv.ConversationID, "rating", rating)
	}

	s.ResetIdle()
	return Result{Accepted: true, Outbound: models.OutboundActions{models.TextMessage(chatID, Acknowledgement(rating))}}
}
