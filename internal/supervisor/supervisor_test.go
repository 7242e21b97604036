package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/dispatcher"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/guarantee"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/session"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/survey"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/timeout"
)

// scriptedAssistant answers with the reply registered for the message text,
// or a plain greeting.
type scriptedAssistant struct {
	mu      sync.Mutex
	replies map[string]*models.AssistantResponse
	seen    []models.AssistantRequest
	hook    func(req models.AssistantRequest)
}

func newScriptedAssistant() *scriptedAssistant {
	return &scriptedAssistant{replies: map[string]*models.AssistantResponse{}}
}

func (a *scriptedAssistant) on(message, text string, actions ...models.Action) {
	if actions == nil {
		actions = []models.Action{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies[message] = &models.AssistantResponse{
		Response:    models.AssistantReply{Text: text},
		Actions:     actions,
		SessionData: map[string]any{"last": message},
	}
}

func (a *scriptedAssistant) Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error) {
	if a.hook != nil {
		a.hook(req)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, req)
	if r, ok := a.replies[req.Message]; ok {
		return r, nil
	}
	return &models.AssistantResponse{
		Response:    models.AssistantReply{Text: "¡Hola! ¿En qué puedo ayudarte?"},
		Actions:     []models.Action{},
		SessionData: map[string]any{"last": req.Message},
	}, nil
}

type recordingNotifier struct {
	ch chan models.OutboundActions
}

func (n *recordingNotifier) Deliver(ctx context.Context, out models.OutboundActions) error {
	n.ch <- out
	return nil
}

type harness struct {
	sup       *Supervisor
	st        *store.InMemoryStore
	sessions  session.Repository
	timeouts  *timeout.Manager
	assistant *scriptedAssistant
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, unit time.Duration, sessions session.Repository) *harness {
	t.Helper()
	st := store.NewInMemoryStore()
	for i := 1; i <= 8; i++ {
		if err := st.UpsertProduct(context.Background(), models.Product{
			ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Producto %d", i), Price: 10, Currency: "USD", Stock: 1,
		}); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	if sessions == nil {
		sessions = session.NewStoreRepository(st)
	}
	tm := timeout.NewManager(timeout.WithUnit(unit))
	t.Cleanup(tm.Stop)
	a := newScriptedAssistant()
	sup, err := New(Deps{
		Repos:      st,
		Sessions:   sessions,
		Timeouts:   tm,
		Guarantees: guarantee.NewEngine(st),
		Surveys:    survey.NewEngine(st),
		Dispatcher: dispatcher.New(a, st),
	}, WithTimeoutMinutes(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := &recordingNotifier{ch: make(chan models.OutboundActions, 4)}
	sup.SetNotifier(n)
	return &harness{sup: sup, st: st, sessions: sessions, timeouts: tm, assistant: a, notifier: n}
}

func (h *harness) text(t *testing.T, msg string) models.OutboundActions {
	t.Helper()
	out, err := h.sup.HandleInboundText(context.Background(), "u1", "chat-1", msg)
	if err != nil {
		t.Fatalf("HandleInboundText(%q): %v", msg, err)
	}
	return out
}

func (h *harness) session(t *testing.T) *models.Session {
	t.Helper()
	s, err := h.sessions.Load(context.Background(), "u1")
	if err != nil || s == nil {
		t.Fatalf("load session: %v %v", s, err)
	}
	return s
}

func joined(out models.OutboundActions) string {
	var parts []string
	for _, o := range out {
		parts = append(parts, o.Text+o.Caption)
	}
	return strings.Join(parts, "\n")
}

func TestCatalogRequestOpensConversation(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.assistant.on("quiero ver productos", "Claro, mira estos productos", models.Action{
		Command: models.CommandConsultCatalog, Parameters: map[string]any{"limit": float64(5)},
	})

	out := h.text(t, "quiero ver productos")
	if len(out) != 2 || out[0].Text != "Claro, mira estos productos" {
		t.Fatalf("unexpected outbound %+v", out)
	}
	if n := strings.Count(out[1].Text, "Producto "); n != 5 {
		t.Errorf("expected 5 products in the listing, got %d", n)
	}

	conv, _ := h.st.GetActiveConversation(context.Background(), "u1")
	if conv == nil {
		t.Fatal("expected an active conversation")
	}
	if id, ok := h.timeouts.ConversationFor("u1"); !ok || id != conv.ID {
		t.Errorf("expected timer armed for %s, got %q", conv.ID, id)
	}
	if conv.AISessionData["last"] != "quiero ver productos" {
		t.Errorf("conversation should hold assistant context, got %v", conv.AISessionData)
	}
	if msgs, _ := h.st.ListMessages(context.Background(), "u1", 10); len(msgs) < 2 {
		t.Errorf("expected inbound and outbound messages logged, got %d", len(msgs))
	}
}

func TestAssistantReceivesConversationContext(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.text(t, "hola")
	h.text(t, "segunda")

	h.assistant.mu.Lock()
	defer h.assistant.mu.Unlock()
	if got := h.assistant.seen[1].SessionData["last"]; got != "hola" {
		t.Errorf("second turn should carry context from the first, got %v", got)
	}
}

func startGuarantee(t *testing.T, h *harness) {
	t.Helper()
	h.assistant.on("quiero registrar una garantía", "Te ayudo con eso", models.Action{Command: models.CommandRegisterGuarantee})
	out := h.text(t, "quiero registrar una garantía")
	if !strings.Contains(joined(out), "número de factura") {
		t.Fatalf("expected opening prompt, got %q", joined(out))
	}
	if h.session(t).State != models.SessionStateGuaranteeFlow {
		t.Fatal("expected guarantee_flow state")
	}
}

func TestShortInvoiceNumberKeepsStep(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	startGuarantee(t, h)
	h.text(t, "AB")

	g, ok := h.session(t).Flow.Guarantee()
	if !ok || g.Step != models.StepWaitingInvoiceNumber {
		t.Fatalf("expected waiting_invoice_number, got %+v", g)
	}
}

func TestGuaranteeFlowCompletes(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	ctx := context.Background()
	startGuarantee(t, h)
	calls := len(h.assistant.seen)

	h.text(t, "FAC-12345")
	for _, ref := range []string{"invoice", "product"} {
		photos := []models.PhotoRef{{Ref: ref + "-small", Width: 100, Height: 100}, {Ref: ref + "-big", Width: 800, Height: 600}}
		if _, err := h.sup.HandleInboundPhoto(ctx, "u1", "chat-1", photos, ""); err != nil {
			t.Fatalf("photo: %v", err)
		}
	}
	out := h.text(t, "La pantalla parpadea al encender")

	saved := h.st.Guarantees()
	if len(saved) != 1 {
		t.Fatalf("expected one guarantee, got %d", len(saved))
	}
	if !strings.Contains(joined(out), saved[0].ID) {
		t.Errorf("reply should include record id %s: %q", saved[0].ID, joined(out))
	}
	if saved[0].InvoicePhotoRef != "invoice-big" || saved[0].ProductPhotoRef != "product-big" {
		t.Errorf("expected largest photos stored, got %+v", saved[0])
	}
	if h.session(t).State != models.SessionStateIdle {
		t.Errorf("expected idle after completion, got %s", h.session(t).State)
	}
	if len(h.assistant.seen) != calls {
		t.Error("flow steps must not reach the assistant")
	}
	if !h.timeouts.HasActive("u1") {
		t.Error("conversation timer should stay armed during the flow")
	}
}

func TestCancelCommandLeavesFlow(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	startGuarantee(t, h)
	h.text(t, "FAC-12345")
	h.text(t, "/cancel")
	if s := h.session(t); s.State != models.SessionStateIdle || s.Flow.Kind() != models.FlowKindNone {
		t.Errorf("expected idle after cancel, got %s", s.State)
	}

	out, err := h.sup.CancelCurrent(context.Background(), "u1", "chat-1")
	if err != nil || !strings.Contains(joined(out), "No hay ninguna operación") {
		t.Errorf("unexpected cancel reply %q %v", joined(out), err)
	}
}

func TestTimeoutSendsSurveyAndRatingCompletes(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, nil)
	ctx := context.Background()
	h.text(t, "hola")
	conv, _ := h.st.GetActiveConversation(ctx, "u1")
	if conv == nil {
		t.Fatal("expected active conversation")
	}

	var out models.OutboundActions
	select {
	case out = <-h.notifier.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("survey was not delivered after the timeout")
	}
	if len(out) != 1 || len(out[0].Choices) != 5 || out[0].ChatID != "chat-1" {
		t.Fatalf("expected a 5-choice prompt, got %+v", out)
	}

	got, _ := h.st.GetConversation(ctx, conv.ID)
	if got.IsActive() {
		t.Error("conversation should be ended by the timeout")
	}
	s := h.session(t)
	sv, ok := s.Flow.Survey()
	if s.State != models.SessionStateSurveyWaiting || !ok || sv.ConversationID != conv.ID {
		t.Fatalf("expected survey_waiting for %s, got %s %+v", conv.ID, s.State, sv)
	}

	rejected := h.text(t, "excelente")
	if !strings.Contains(joined(rejected), "botones") {
		t.Errorf("text during survey should be rejected, got %q", joined(rejected))
	}

	reply, err := h.sup.HandleCallback(ctx, "u1", "chat-1", survey.CallbackPrefix+"5")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if joined(reply) != survey.Acknowledgement(5) {
		t.Errorf("unexpected acknowledgement %q", joined(reply))
	}
	surveys := h.st.Surveys()
	if len(surveys) != 1 || surveys[0].Rating != 5 || surveys[0].ConversationID != conv.ID {
		t.Fatalf("unexpected surveys %+v", surveys)
	}
	if h.session(t).State != models.SessionStateIdle {
		t.Error("expected idle after rating")
	}
	if h.timeouts.HasActive("u1") {
		t.Error("rating must not open a new conversation")
	}
}

func TestEndConversationActionSendsSurvey(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.text(t, "hola")
	conv, _ := h.st.GetActiveConversation(context.Background(), "u1")

	h.assistant.on("eso es todo", "¡Gracias por escribirnos!", models.Action{Command: models.CommandEndConversation})
	out := h.text(t, "eso es todo")
	if len(out) != 2 || len(out[1].Choices) != 5 {
		t.Fatalf("expected farewell and survey prompt, got %+v", out)
	}
	if h.timeouts.HasActive("u1") {
		t.Error("timer should be cancelled when the conversation ends")
	}

	// A late expiry for the same conversation is a no-op.
	h.sup.HandleTimeout("u1", conv.ID)
	select {
	case out := <-h.notifier.ch:
		t.Fatalf("late expiry must not send another survey: %+v", out)
	default:
	}
	if h.session(t).State != models.SessionStateSurveyWaiting {
		t.Error("late expiry must not disturb the session")
	}
}

func TestExpiryAfterRenewalIsNoOp(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.text(t, "hola")
	conv, _ := h.st.GetActiveConversation(context.Background(), "u1")

	h.sup.HandleTimeout("u1", conv.ID)
	got, _ := h.st.GetConversation(context.Background(), conv.ID)
	if !got.IsActive() {
		t.Error("expiry racing a renewal must not end the conversation")
	}
}

func TestMalformedSessionRecovers(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	if err := h.st.SaveSessionSnapshot(context.Background(), "u1", []byte(`{"state":"guarantee_flow","flow_data":{`)); err != nil {
		t.Fatal(err)
	}
	out := h.text(t, "hola")
	if len(out) == 0 {
		t.Fatal("expected a reply despite the corrupt session")
	}
	if h.session(t).State != models.SessionStateIdle {
		t.Error("corrupt session should be replaced with a fresh idle one")
	}
}

type failingSessions struct{ session.Repository }

func (failingSessions) Save(ctx context.Context, s *models.Session) error {
	return errors.New("disk full")
}

func TestPersistenceFailureStillAnswers(t *testing.T) {
	st := store.NewInMemoryStore()
	h := newHarness(t, time.Hour, failingSessions{session.NewStoreRepository(st)})
	out := h.text(t, "hola")
	if len(out) != 1 || out[0].Text == "" {
		t.Fatalf("expected reply despite save failure, got %+v", out)
	}
}

func TestSameUserEventsAreSerialized(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	var inFlight, peak int32
	h.assistant.hook = func(models.AssistantRequest) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.sup.HandleInboundText(context.Background(), "u1", "chat-1", fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("turn %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if p := atomic.LoadInt32(&peak); p != 1 {
		t.Errorf("expected serialized turns for one user, peak concurrency %d", p)
	}
	active, _ := h.st.ListActiveConversations(context.Background())
	if len(active) != 1 {
		t.Errorf("expected one active conversation, got %d", len(active))
	}
	if h.sup.locks.size() != 0 {
		t.Error("user locks should be released")
	}
}

func TestEmptyUserIDRejected(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	if _, err := h.sup.HandleInboundText(context.Background(), "", "chat-1", "hola"); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestStaleSurveyCallback(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	out, err := h.sup.HandleCallback(context.Background(), "u1", "chat-1", survey.CallbackPrefix+"4")
	if err != nil || !strings.Contains(joined(out), "ya no está disponible") {
		t.Errorf("unexpected reply %q %v", joined(out), err)
	}
	if len(h.st.Surveys()) != 0 {
		t.Error("stale callback must not record a survey")
	}
}
