package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFlowDataZeroValueIsNone(t *testing.T) {
	var f FlowData
	if f.Kind() != FlowKindNone {
		t.Fatalf("expected none, got %s", f.Kind())
	}
	if _, ok := f.Guarantee(); ok {
		t.Error("zero FlowData should not expose guarantee data")
	}
	if _, ok := f.Survey(); ok {
		t.Error("zero FlowData should not expose survey data")
	}
}

func TestFlowDataWireKeys(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	b, err := json.Marshal(GuaranteeFlow(GuaranteeFlowState{Step: StepWaitingInvoicePhoto, StartedAt: now}))
	if err != nil {
		t.Fatalf("marshal guarantee: %v", err)
	}
	if !strings.Contains(string(b), `"guarantee_flow"`) || strings.Contains(string(b), `"survey_data"`) {
		t.Errorf("unexpected guarantee wire shape: %s", b)
	}

	b, err = json.Marshal(SurveyFlow(SurveyFlowState{ConversationID: "c1", WaitingForRating: true}))
	if err != nil {
		t.Fatalf("marshal survey: %v", err)
	}
	if !strings.Contains(string(b), `"survey_data"`) || strings.Contains(string(b), `"guarantee_flow"`) {
		t.Errorf("unexpected survey wire shape: %s", b)
	}

	b, err = json.Marshal(NoFlow())
	if err != nil {
		t.Fatalf("marshal none: %v", err)
	}
	if string(b) != "{}" {
		t.Errorf("expected empty object for none, got %s", b)
	}
}

func TestFlowDataRejectsBothVariants(t *testing.T) {
	var f FlowData
	err := json.Unmarshal([]byte(`{"guarantee_flow":{"step":"waiting_description"},"survey_data":{"conversation_id":"c"}}`), &f)
	if !errors.Is(err, ErrConflictingFlowData) {
		t.Fatalf("expected ErrConflictingFlowData, got %v", err)
	}
}

func TestSessionTransitionsKeepFlowDataConsistent(t *testing.T) {
	now := time.Now()
	s := NewSession("u1", now)
	if err := s.Validate(); err != nil {
		t.Fatalf("fresh session invalid: %v", err)
	}

	g := s.BeginGuaranteeFlow(now)
	g.Data.InvoiceNumber = "F-001"
	if err := s.Validate(); err != nil {
		t.Fatalf("guarantee session invalid: %v", err)
	}
	if got, _ := s.Flow.Guarantee(); got.Data.InvoiceNumber != "F-001" {
		t.Error("guarantee pointer should alias session flow data")
	}
	if _, ok := s.Flow.Survey(); ok {
		t.Error("survey data must be absent during guarantee flow")
	}

	s.BeginSurvey("conv-1", now)
	if err := s.Validate(); err != nil {
		t.Fatalf("survey session invalid: %v", err)
	}
	if _, ok := s.Flow.Guarantee(); ok {
		t.Error("guarantee data must be cleared when entering survey")
	}

	s.ResetIdle()
	if s.State != SessionStateIdle || s.Flow.Kind() != FlowKindNone {
		t.Errorf("expected idle/none, got %s/%s", s.State, s.Flow.Kind())
	}
}

func TestSessionValidateDetectsMismatch(t *testing.T) {
	s := &Session{UserID: "u", State: SessionStateSurveyWaiting, Flow: NoFlow()}
	if err := s.Validate(); err == nil {
		t.Error("expected error for survey_waiting without survey data")
	}
	s = &Session{UserID: "u", State: SessionStateIdle, Flow: SurveyFlow(SurveyFlowState{})}
	if err := s.Validate(); err == nil {
		t.Error("expected error for idle with survey data")
	}
	s = &Session{UserID: "u", State: "bogus"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestSessionRoundTripPreservesVariant(t *testing.T) {
	s := NewSession("u1", time.Now().UTC())
	g := s.BeginGuaranteeFlow(time.Now().UTC())
	g.Step = StepWaitingDescription
	g.Data = GuaranteeData{InvoiceNumber: "ABC", InvoicePhotoRef: "p1", ProductPhotoRef: "p2"}

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Session
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := back.Flow.Guarantee()
	if !ok {
		t.Fatal("expected guarantee variant after decode")
	}
	if got.Step != StepWaitingDescription || got.Data.ProductPhotoRef != "p2" {
		t.Errorf("unexpected decoded state: %+v", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSession("u1", time.Now())
	s.AISessionData = map[string]any{"k": "v"}
	s.BeginGuaranteeFlow(time.Now())

	c := s.Clone()
	cg, _ := c.Flow.Guarantee()
	cg.Data.InvoiceNumber = "changed"
	c.AISessionData["k"] = "other"

	g, _ := s.Flow.Guarantee()
	if g.Data.InvoiceNumber != "" {
		t.Error("clone shares guarantee state with original")
	}
	if s.AISessionData["k"] != "v" {
		t.Error("clone shares ai session data with original")
	}
}

func TestGuaranteeStepOrdinal(t *testing.T) {
	steps := []GuaranteeStep{StepWaitingInvoiceNumber, StepWaitingInvoicePhoto, StepWaitingProductPhoto, StepWaitingDescription, StepCompleted}
	for i, s := range steps {
		if s.Ordinal() != i {
			t.Errorf("step %s: expected ordinal %d, got %d", s, i, s.Ordinal())
		}
	}
	if GuaranteeStep("nope").Ordinal() != -1 {
		t.Error("unknown step should have ordinal -1")
	}
}

func TestLargestPhoto(t *testing.T) {
	if _, ok := LargestPhoto(nil); ok {
		t.Error("expected no photo for empty input")
	}
	photos := []PhotoRef{
		{Ref: "small", Width: 90, Height: 90},
		{Ref: "large", Width: 1280, Height: 960},
		{Ref: "medium", Width: 320, Height: 240},
	}
	best, ok := LargestPhoto(photos)
	if !ok || best.Ref != "large" {
		t.Errorf("expected large, got %+v", best)
	}
}

func TestGuaranteeValidate(t *testing.T) {
	g := Guarantee{UserID: "u", InvoiceNumber: "INV", InvoicePhotoRef: "a", ProductPhotoRef: "b"}
	if !errors.Is(g.Validate(), ErrIncompleteGuarantee) {
		t.Error("expected incomplete guarantee error")
	}
	g.Description = "pantalla rota desde ayer"
	if err := g.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidRating(t *testing.T) {
	for r := -1; r <= 7; r++ {
		want := r >= 1 && r <= 5
		if ValidRating(r) != want {
			t.Errorf("ValidRating(%d) = %v, want %v", r, !want, want)
		}
	}
}
