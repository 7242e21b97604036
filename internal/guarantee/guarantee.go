// Package guarantee drives the warranty registration flow.
//
// The flow collects four inputs in strict order: invoice number, invoice photo,
// product photo and a description of the problem. Steps only move forward; the
// sole way back is CancelFlow, which returns the session to idle.
package guarantee

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/looplab/fsm"
)

// Validation thresholds.
const (
	MinInvoiceNumberLength = 3
	MinDescriptionLength   = 10
)

const eventAdvance = "advance"

// stepEvents encodes the forward-only step order.
var stepEvents = fsm.Events{
	{Name: eventAdvance, Src: []string{string(models.StepWaitingInvoiceNumber)}, Dst: string(models.StepWaitingInvoicePhoto)},
	{Name: eventAdvance, Src: []string{string(models.StepWaitingInvoicePhoto)}, Dst: string(models.StepWaitingProductPhoto)},
	{Name: eventAdvance, Src: []string{string(models.StepWaitingProductPhoto)}, Dst: string(models.StepWaitingDescription)},
	{Name: eventAdvance, Src: []string{string(models.StepWaitingDescription)}, Dst: string(models.StepCompleted)},
}

// User-facing messages.
const (
	msgStart = "Vamos a registrar tu garantía. 📝\n\n" +
		"Paso 1 de 4: envíame el *número de factura* de tu compra.\n\n" +
		"Puedes escribir /cancelar en cualquier momento para salir."
	msgAskInvoicePhoto   = "Paso 2 de 4: ahora envíame una *foto de la factura*."
	msgAskProductPhoto   = "Paso 3 de 4: envíame una *foto del producto*."
	msgAskDescription    = "Paso 4 de 4: describe el problema que presenta el producto (mínimo 10 caracteres)."
	msgInvoiceTooShort   = "El número de factura es muy corto. Debe tener al menos 3 caracteres. Inténtalo de nuevo."
	msgInvoiceNeedsText  = "Necesito el número de factura escrito como texto."
	msgNeedPhoto         = "Por favor envía una foto para continuar."
	msgDescriptionShort  = "La descripción es muy corta. Cuéntanos un poco más (mínimo 10 caracteres)."
	msgDescriptionNeeded = "Necesito una descripción escrita del problema."
	msgPersistFailed     = "No pudimos guardar tu garantía en este momento. 😔 Por favor envía la descripción nuevamente en unos minutos."
	msgFlowReset         = "Ocurrió un problema con el registro. Por favor comienza de nuevo."
	msgCancelled         = "Registro de garantía cancelado. ¿En qué más puedo ayudarte?"
	msgCompletedFmt      = "✅ ¡Tu garantía fue registrada con éxito!\n\nNúmero de registro: *%s*\n\nNuestro equipo revisará tu caso y te contactará pronto."
)

// Input is an inbound event delivered to the flow.
type Input struct {
	Text   string
	Photos []models.PhotoRef
}

// HasPhoto reports whether the input carries at least one photo.
func (in Input) HasPhoto() bool {
	return len(in.Photos) > 0
}

// StepResult is the outcome of ProcessStep.
type StepResult struct {
	// Handled is false when the session is not in a step this engine can process.
	Handled     bool
	Outbound    models.OutboundActions
	Completed   bool
	GuaranteeID string
}

// Engine processes guarantee flow steps.
type Engine struct {
	repo store.GuaranteeRepo
	now  func() time.Time
}

// NewEngine creates an Engine persisting guarantees to repo.
func NewEngine(repo store.GuaranteeRepo) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// StartFlow puts the session at the first step and returns the opening prompt.
// It does not check for a flow already in progress.
func (e *Engine) StartFlow(s *models.Session, chatID string) models.OutboundActions {
	s.BeginGuaranteeFlow(e.now().UTC())
	slog.Info("guarantee.Engine.StartFlow: flow started", "userID", s.UserID)
	return models.OutboundActions{models.TextMessage(chatID, msgStart)}
}

// CancelFlow resets the session to idle from any step.
func (e *Engine) CancelFlow(s *models.Session, chatID string) models.OutboundActions {
	step := ""
	if g, ok := s.Flow.Guarantee(); ok {
		step = string(g.Step)
	}
	s.ResetIdle()
	slog.Info("guarantee.Engine.CancelFlow: flow cancelled", "userID", s.UserID, "step", step)
	return models.OutboundActions{models.TextMessage(chatID, msgCancelled)}
}

// ProcessStep validates the input against the current step and advances on success.
func (e *Engine) ProcessStep(ctx context.Context, s *models.Session, chatID string, in Input) StepResult {
	g, ok := s.Flow.Guarantee()
	if !ok || s.State != models.SessionStateGuaranteeFlow {
		return StepResult{}
	}
	reply := func(text string) StepResult {
		return StepResult{Handled: true, Outbound: models.OutboundActions{models.TextMessage(chatID, text)}}
	}

	switch g.Step {
	case models.StepWaitingInvoiceNumber:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return reply(msgInvoiceNeedsText)
		}
		if len([]rune(text)) < MinInvoiceNumberLength {
			return reply(msgInvoiceTooShort)
		}
		g.Data.InvoiceNumber = text
		if err := e.advance(ctx, g); err != nil {
			return e.internalError(s, chatID, err)
		}
		return reply(msgAskInvoicePhoto)

	case models.StepWaitingInvoicePhoto:
		photo, ok := models.LargestPhoto(in.Photos)
		if !ok {
			return reply(msgNeedPhoto)
		}
		g.Data.InvoicePhotoRef = photo.Ref
		if err := e.advance(ctx, g); err != nil {
			return e.internalError(s, chatID, err)
		}
		return reply(msgAskProductPhoto)

	case models.StepWaitingProductPhoto:
		photo, ok := models.LargestPhoto(in.Photos)
		if !ok {
			return reply(msgNeedPhoto)
		}
		g.Data.ProductPhotoRef = photo.Ref
		if err := e.advance(ctx, g); err != nil {
			return e.internalError(s, chatID, err)
		}
		return reply(msgAskDescription)

	case models.StepWaitingDescription:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return reply(msgDescriptionNeeded)
		}
		if len([]rune(text)) < MinDescriptionLength {
			return reply(msgDescriptionShort)
		}
		return e.complete(ctx, s, g, chatID, text)

	default:
		slog.Warn("guarantee.Engine.ProcessStep: session at unexpected step", "userID", s.UserID, "step", g.Step)
		return StepResult{}
	}
}

// complete persists the guarantee. On failure the step is left at waiting_description.
func (e *Engine) complete(ctx context.Context, s *models.Session, g *models.GuaranteeFlowState, chatID, description string) StepResult {
	data := g.Data
	data.Description = description
	if !data.Complete() {
		slog.Error("guarantee.Engine.complete: collected data incomplete", "userID", s.UserID)
		return e.internalError(s, chatID, fmt.Errorf("guarantee data incomplete"))
	}

	record := &models.Guarantee{
		UserID:          s.UserID,
		InvoiceNumber:   data.InvoiceNumber,
		InvoicePhotoRef: data.InvoicePhotoRef,
		ProductPhotoRef: data.ProductPhotoRef,
		Description:     data.Description,
		Status:          models.GuaranteeStatusPending,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.repo.CreateGuarantee(ctx, record); err != nil {
		slog.Error("guarantee.Engine.complete: failed to persist guarantee", "userID", s.UserID, "error", err)
		return StepResult{Handled: true, Outbound: models.OutboundActions{models.TextMessage(chatID, msgPersistFailed)}}
	}

	g.Data = data
	if err := e.advance(ctx, g); err != nil {
		slog.Warn("guarantee.Engine.complete: advance to completed failed", "userID", s.UserID, "error", err)
	}
	s.ResetIdle()
	slog.Info("guarantee.Engine.complete: guarantee registered", "userID", s.UserID, "guaranteeID", record.ID)
	return StepResult{
		Handled:     true,
		Completed:   true,
		GuaranteeID: record.ID,
		Outbound:    models.OutboundActions{models.TextMessage(chatID, fmt.Sprintf(msgCompletedFmt, record.ID))},
	}
}

// advance moves g one step forward through the state machine.
func (e *Engine) advance(ctx context.Context, g *models.GuaranteeFlowState) error {
	machine := fsm.NewFSM(string(g.Step), stepEvents, nil)
	if err := machine.Event(ctx, eventAdvance); err != nil {
		return fmt.Errorf("failed to advance from %s: %w", g.Step, err)
	}
	g.Step = models.GuaranteeStep(machine.Current())
	return nil
}

// internalError resets a corrupted flow so the user is not stuck.
func (e *Engine) internalError(s *models.Session, chatID string, err error) StepResult {
	slog.Error("guarantee.Engine: flow state error, resetting", "userID", s.UserID, "error", err)
	s.ResetIdle()
	return StepResult{
		Handled:  true,
		Outbound: models.OutboundActions{models.TextMessage(chatID, msgFlowReset)},
	}
}

// CanAdvance reports whether the state machine allows leaving step.
func CanAdvance(step models.GuaranteeStep) bool {
	return fsm.NewFSM(string(step), stepEvents, nil).Can(eventAdvance)
}
