package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionState is the top-level conversational state of a user.
type SessionState string

// Session state constants.
const (
	SessionStateIdle              SessionState = "idle"
	SessionStateGuaranteeFlow     SessionState = "guarantee_flow"
	SessionStateSurveyWaiting     SessionState = "survey_waiting"
	SessionStateConversationEnded SessionState = "conversation_ended"
)

// IsValid reports whether s is one of the known session states.
func (s SessionState) IsValid() bool {
	switch s {
	case SessionStateIdle, SessionStateGuaranteeFlow, SessionStateSurveyWaiting, SessionStateConversationEnded:
		return true
	default:
		return false
	}
}

// GuaranteeStep is a step of the guarantee registration flow.
type GuaranteeStep string

// Guarantee steps, strictly ordered.
const (
	StepWaitingInvoiceNumber GuaranteeStep = "waiting_invoice_number"
	StepWaitingInvoicePhoto  GuaranteeStep = "waiting_invoice_photo"
	StepWaitingProductPhoto  GuaranteeStep = "waiting_product_photo"
	StepWaitingDescription   GuaranteeStep = "waiting_description"
	StepCompleted            GuaranteeStep = "completed"
)

var guaranteeStepOrder = map[GuaranteeStep]int{
	StepWaitingInvoiceNumber: 0,
	StepWaitingInvoicePhoto:  1,
	StepWaitingProductPhoto:  2,
	StepWaitingDescription:   3,
	StepCompleted:            4,
}

// Ordinal returns the position of the step in the flow, or -1 for unknown steps.
func (s GuaranteeStep) Ordinal() int {
	if n, ok := guaranteeStepOrder[s]; ok {
		return n
	}
	return -1
}

// GuaranteeData accumulates the fields collected by the guarantee flow.
type GuaranteeData struct {
	InvoiceNumber   string `json:"invoice_number,omitempty"`
	InvoicePhotoRef string `json:"invoice_photo_ref,omitempty"`
	ProductPhotoRef string `json:"product_photo_ref,omitempty"`
	Description     string `json:"description,omitempty"`
}

// Complete reports whether all four fields are populated.
func (d GuaranteeData) Complete() bool {
	return d.InvoiceNumber != "" && d.InvoicePhotoRef != "" && d.ProductPhotoRef != "" && d.Description != ""
}

// GuaranteeFlowState is the guarantee sub-structure of a session's flow data.
type GuaranteeFlowState struct {
	Step      GuaranteeStep `json:"step"`
	Data      GuaranteeData `json:"data"`
	StartedAt time.Time     `json:"started_at"`
}

// SurveyFlowState is the survey sub-structure of a session's flow data.
type SurveyFlowState struct {
	ConversationID   string    `json:"conversation_id"`
	WaitingForRating bool      `json:"waiting_for_rating"`
	SentAt           time.Time `json:"sent_at"`
}

// FlowKind tags which variant a FlowData holds.
type FlowKind string

// Flow kinds.
const (
	FlowKindNone      FlowKind = "none"
	FlowKindGuarantee FlowKind = "guarantee_flow"
	FlowKindSurvey    FlowKind = "survey"
)

// ErrConflictingFlowData is returned when persisted flow data carries both sub-structures.
var ErrConflictingFlowData = errors.New("flow data holds both guarantee_flow and survey_data")

// FlowData is a tagged union over {None, GuaranteeFlow, Survey}.
// The zero value is the None variant.
type FlowData struct {
	kind      FlowKind
	guarantee *GuaranteeFlowState
	survey    *SurveyFlowState
}

// NoFlow returns the empty variant.
func NoFlow() FlowData {
	return FlowData{kind: FlowKindNone}
}

// GuaranteeFlow wraps a guarantee flow state.
func GuaranteeFlow(state GuaranteeFlowState) FlowData {
	return FlowData{kind: FlowKindGuarantee, guarantee: &state}
}

// SurveyFlow wraps a survey flow state.
func SurveyFlow(state SurveyFlowState) FlowData {
	return FlowData{kind: FlowKindSurvey, survey: &state}
}

// Kind returns the active variant.
func (f FlowData) Kind() FlowKind {
	if f.kind == "" {
		return FlowKindNone
	}
	return f.kind
}

// Guarantee returns the guarantee sub-structure when that variant is active.
// The returned pointer aliases the union so callers may update it in place.
func (f FlowData) Guarantee() (*GuaranteeFlowState, bool) {
	if f.kind != FlowKindGuarantee || f.guarantee == nil {
		return nil, false
	}
	return f.guarantee, true
}

// Survey returns the survey sub-structure when that variant is active.
func (f FlowData) Survey() (*SurveyFlowState, bool) {
	if f.kind != FlowKindSurvey || f.survey == nil {
		return nil, false
	}
	return f.survey, true
}

// flowDataWire is the persisted shape of FlowData.
type flowDataWire struct {
	GuaranteeFlow *GuaranteeFlowState `json:"guarantee_flow,omitempty"`
	SurveyData    *SurveyFlowState    `json:"survey_data,omitempty"`
}

// MarshalJSON encodes the populated variant under its wire key.
func (f FlowData) MarshalJSON() ([]byte, error) {
	var w flowDataWire
	switch f.Kind() {
	case FlowKindGuarantee:
		w.GuaranteeFlow = f.guarantee
	case FlowKindSurvey:
		w.SurveyData = f.survey
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape, rejecting payloads with both variants.
func (f *FlowData) UnmarshalJSON(data []byte) error {
	var w flowDataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.GuaranteeFlow != nil && w.SurveyData != nil:
		return ErrConflictingFlowData
	case w.GuaranteeFlow != nil:
		*f = GuaranteeFlow(*w.GuaranteeFlow)
	case w.SurveyData != nil:
		*f = SurveyFlow(*w.SurveyData)
	default:
		*f = NoFlow()
	}
	return nil
}

// Session is the ephemeral per-user conversational state.
type Session struct {
	UserID        string         `json:"user_id"`
	State         SessionState   `json:"state"`
	Flow          FlowData       `json:"flow_data"`
	AISessionData map[string]any `json:"ai_session_data,omitempty"`
	LastActivity  time.Time      `json:"last_activity"`
}

// NewSession returns a fresh idle session.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		State:        SessionStateIdle,
		Flow:         NoFlow(),
		LastActivity: now,
	}
}

// Touch records inbound activity.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// ResetIdle returns the session to idle and clears flow data.
func (s *Session) ResetIdle() {
	s.State = SessionStateIdle
	s.Flow = NoFlow()
}

// BeginGuaranteeFlow enters the guarantee flow at its first step.
func (s *Session) BeginGuaranteeFlow(now time.Time) *GuaranteeFlowState {
	s.State = SessionStateGuaranteeFlow
	s.Flow = GuaranteeFlow(GuaranteeFlowState{Step: StepWaitingInvoiceNumber, StartedAt: now})
	g, _ := s.Flow.Guarantee()
	return g
}

// BeginSurvey enters survey_waiting for the given conversation.
func (s *Session) BeginSurvey(conversationID string, now time.Time) *SurveyFlowState {
	s.State = SessionStateSurveyWaiting
	s.Flow = SurveyFlow(SurveyFlowState{ConversationID: conversationID, WaitingForRating: true, SentAt: now})
	sv, _ := s.Flow.Survey()
	return sv
}

// MarkConversationEnded records that the conversation ended without a survey.
func (s *Session) MarkConversationEnded() {
	s.State = SessionStateConversationEnded
	s.Flow = NoFlow()
}

// Validate checks that state and flow data agree.
func (s *Session) Validate() error {
	if !s.State.IsValid() {
		return fmt.Errorf("unknown session state %q", s.State)
	}
	switch s.State {
	case SessionStateGuaranteeFlow:
		g, ok := s.Flow.Guarantee()
		if !ok {
			return fmt.Errorf("state %s without guarantee_flow data", s.State)
		}
		if g.Step.Ordinal() < 0 {
			return fmt.Errorf("unknown guarantee step %q", g.Step)
		}
	case SessionStateSurveyWaiting:
		if _, ok := s.Flow.Survey(); !ok {
			return fmt.Errorf("state %s without survey_data", s.State)
		}
	default:
		if s.Flow.Kind() != FlowKindNone {
			return fmt.Errorf("state %s must not carry %s flow data", s.State, s.Flow.Kind())
		}
	}
	return nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	switch s.Flow.Kind() {
	case FlowKindGuarantee:
		g, _ := s.Flow.Guarantee()
		c.Flow = GuaranteeFlow(*g)
	case FlowKindSurvey:
		sv, _ := s.Flow.Survey()
		c.Flow = SurveyFlow(*sv)
	default:
		c.Flow = NoFlow()
	}
	if s.AISessionData != nil {
		c.AISessionData = make(map[string]any, len(s.AISessionData))
		for k, v := range s.AISessionData {
			c.AISessionData[k] = v
		}
	}
	return &c
}
