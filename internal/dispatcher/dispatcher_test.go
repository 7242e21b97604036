package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/assistant"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

type stubAssistant struct {
	resp *models.AssistantResponse
	err  error
	got  models.AssistantRequest
}

func (s *stubAssistant) Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error) {
	s.got = req
	return s.resp, s.err
}

func reply(text string, actions ...models.Action) *stubAssistant {
	if actions == nil {
		actions = []models.Action{}
	}
	return &stubAssistant{resp: &models.AssistantResponse{
		Response:    models.AssistantReply{Text: text},
		Actions:     actions,
		SessionData: map[string]any{"turn": float64(2)},
	}}
}

func seededStore(t *testing.T) *store.InMemoryStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewInMemoryStore()
	for i := 1; i <= 7; i++ {
		p := models.Product{
			ID:       fmt.Sprintf("p%d", i),
			Name:     fmt.Sprintf("Producto %d", i),
			Brand:    "Acme",
			Price:    float64(i * 100),
			Currency: "USD",
			Stock:    i % 3,
			ImageRef: fmt.Sprintf("img-%d", i),
		}
		if i > 5 {
			p.Brand = "Globex"
		}
		if err := st.UpsertProduct(ctx, p); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	if err := st.UpsertSchedule(ctx, models.Schedule{DayOfWeek: 1, DayName: "Lunes", OpensAt: "09:00", ClosesAt: "18:00"}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	if err := st.UpsertSchedule(ctx, models.Schedule{DayOfWeek: 0, DayName: "Domingo", Closed: true}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	return st
}

func dispatch(d *Dispatcher, msg string) Result {
	return d.Dispatch(context.Background(), Request{Message: msg, UserID: "u1", ChatID: "c1", SessionData: map[string]any{"turn": float64(1)}})
}

func TestCatalogScenario(t *testing.T) {
	a := reply("Aquí tienes algunos productos", models.Action{
		Command:    models.CommandConsultCatalog,
		Parameters: map[string]any{"limit": float64(5)},
	})
	d := New(a, seededStore(t))

	res := dispatch(d, "quiero ver productos")
	if a.got.Message != "quiero ver productos" || a.got.UserID != "u1" {
		t.Fatalf("assistant received %+v", a.got)
	}
	if len(res.ActionResults) != 1 || !res.ActionResults[0].Success {
		t.Fatalf("unexpected action results %+v", res.ActionResults)
	}
	products, ok := res.ActionResults[0].Data.([]models.Product)
	if !ok || len(products) != 5 {
		t.Fatalf("expected 5 products, got %#v", res.ActionResults[0].Data)
	}
	if res.SessionData["turn"] != float64(2) {
		t.Errorf("expected updated session data, got %v", res.SessionData)
	}
	out := res.Outbound("c1")
	if len(out) != 2 || out[0].Text != "Aquí tienes algunos productos" || !strings.Contains(out[1].Text, "Producto 1") {
		t.Errorf("unexpected outbound %+v", out)
	}
}

func TestCatalogLimitBounds(t *testing.T) {
	d := New(reply(""), store.NewInMemoryStore())
	cases := []struct {
		params map[string]any
		want   int
	}{
		{map[string]any{}, DefaultCatalogLimit},
		{map[string]any{"limit": float64(0)}, DefaultCatalogLimit},
		{map[string]any{"limit": "3"}, 3},
		{map[string]any{"limit": float64(50)}, MaxCatalogLimit},
	}
	for _, tc := range cases {
		if got := d.catalogLimit(tc.params); got != tc.want {
			t.Errorf("params %v: got %d want %d", tc.params, got, tc.want)
		}
	}
}

func TestCatalogFilters(t *testing.T) {
	a := reply("", models.Action{
		Command:    models.CommandConsultCatalog,
		Parameters: map[string]any{"brand": "globex", "max_price": float64(650)},
	})
	res := dispatch(New(a, seededStore(t)), "globex baratos")
	products := res.ActionResults[0].Data.([]models.Product)
	if len(products) != 1 || products[0].ID != "p6" {
		t.Fatalf("expected only p6, got %+v", products)
	}
}

type fixedRates map[string]float64

func (f fixedRates) Rate(ctx context.Context, from, to string) (float64, error) {
	r, ok := f[from+"->"+to]
	if !ok {
		return 0, errors.New("no rate")
	}
	return r, nil
}

func TestCatalogCurrencyConversion(t *testing.T) {
	a := reply("", models.Action{
		Command:    models.CommandConsultCatalog,
		Parameters: map[string]any{"limit": float64(2), "currency": "eur"},
	})
	d := New(a, seededStore(t), WithRateLookup(fixedRates{"USD->EUR": 0.5}))
	products := dispatch(d, "precios en euros").ActionResults[0].Data.([]models.Product)
	if products[0].Currency != "EUR" || products[0].Price != 50 {
		t.Errorf("expected converted price, got %+v", products[0])
	}

	d = New(a, seededStore(t), WithRateLookup(fixedRates{}))
	products = dispatch(d, "precios en euros").ActionResults[0].Data.([]models.Product)
	if products[0].Currency != "USD" || products[0].Price != 100 {
		t.Errorf("failed lookup should keep base currency, got %+v", products[0])
	}
}

func TestActionsRunInOrderAndIndependently(t *testing.T) {
	a := reply("Hola",
		models.Action{Command: "FLY_TO_MOON"},
		models.Action{Command: models.CommandConsultSchedule},
		models.Action{Command: models.CommandSendGeolocation},
		models.Action{Command: models.CommandSendImage, Parameters: map[string]any{"product_id": "p2"}},
	)
	res := dispatch(New(a, seededStore(t)), "hola")

	if len(res.ActionResults) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res.ActionResults))
	}
	wantCmds := []string{"FLY_TO_MOON", models.CommandConsultSchedule, models.CommandSendGeolocation, models.CommandSendImage}
	wantOK := []bool{false, true, false, true}
	for i, ar := range res.ActionResults {
		if ar.Command != wantCmds[i] || ar.Success != wantOK[i] {
			t.Errorf("result %d: got %s/%v want %s/%v (%s)", i, ar.Command, ar.Success, wantCmds[i], wantOK[i], ar.Error)
		}
	}
	out := res.Outbound("c1")
	if out[0].Text != "Hola" {
		t.Errorf("assistant text must come first, got %+v", out[0])
	}
	last := out[len(out)-1]
	if last.Kind != models.OutboundPhoto || last.PhotoRef != "img-2" {
		t.Errorf("expected product photo last, got %+v", last)
	}
}

func TestConsultGuaranteesRequiresUserID(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()
	if err := st.CreateGuarantee(ctx, &models.Guarantee{ID: "g1", UserID: "u1", InvoiceNumber: "F1", InvoicePhotoRef: "a", ProductPhotoRef: "b", Description: "no enciende", Status: models.GuaranteeStatusPending}); err != nil {
		t.Fatalf("seed guarantee: %v", err)
	}
	a := reply("",
		models.Action{Command: models.CommandConsultGuarantees},
		models.Action{Command: models.CommandConsultGuarantees, Parameters: map[string]any{"user_id": "someone-else"}},
		models.Action{Command: models.CommandConsultGuarantees, Parameters: map[string]any{"user_id": "u1"}},
	)
	res := dispatch(New(a, st), "mis garantías")
	if res.ActionResults[0].Success || res.ActionResults[1].Success {
		t.Error("missing or foreign user_id must fail")
	}
	list, ok := res.ActionResults[2].Data.([]models.Guarantee)
	if !ok || len(list) != 1 || list[0].ID != "g1" {
		t.Errorf("unexpected guarantees %+v", res.ActionResults[2])
	}
}

func TestRegisterGuaranteeOpensConversation(t *testing.T) {
	st := seededStore(t)
	res := dispatch(New(reply("Vamos a registrar tu garantía", models.Action{Command: models.CommandRegisterGuarantee}), st), "garantía")
	if !res.StartGuarantee {
		t.Fatal("expected start guarantee signal")
	}
	conv, err := st.GetActiveConversation(context.Background(), "u1")
	if err != nil || conv == nil {
		t.Fatalf("expected an active conversation, got %v %v", conv, err)
	}

	// A second request reuses the active conversation.
	dispatch(New(reply("", models.Action{Command: models.CommandRegisterGuarantee}), st), "garantía")
	active, _ := st.ListActiveConversations(context.Background())
	if len(active) != 1 {
		t.Errorf("expected one active conversation, got %d", len(active))
	}
}

func TestEndConversation(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()
	conv := &models.Conversation{ID: "conv-1", UserID: "u1", StartedAt: time.Now(), Status: models.ConversationStatusActive}
	if err := st.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	res := dispatch(New(reply("¡Hasta pronto!", models.Action{Command: models.CommandEndConversation}), st), "adiós")
	if res.EndedConversationID != "conv-1" {
		t.Fatalf("expected conv-1 to be ended, got %q", res.EndedConversationID)
	}
	got, _ := st.GetConversation(ctx, "conv-1")
	if got.IsActive() {
		t.Error("conversation should be ended in storage")
	}

	res = dispatch(New(reply("", models.Action{Command: models.CommandEndConversation}), st), "adiós")
	if res.ActionResults[0].Success || res.EndedConversationID != "" {
		t.Error("ending without an active conversation must fail without a signal")
	}
}

func TestFallbackSkipsActions(t *testing.T) {
	a := &stubAssistant{
		resp: &models.AssistantResponse{
			Response:    models.AssistantReply{Text: "Estamos saturados"},
			Actions:     []models.Action{},
			SessionData: map[string]any{"fallback": true},
		},
		err: errors.New("overloaded"),
	}
	res := dispatch(New(a, seededStore(t)), "hola")
	if !res.Fallback || res.Reply.Text != "Estamos saturados" || len(res.ActionResults) != 0 {
		t.Errorf("unexpected fallback result %+v", res)
	}
}

// scriptedAssistant answers each call with the next scripted step.
type scriptedAssistant struct {
	steps []func(req models.AssistantRequest) (*models.AssistantResponse, error)
}

func (s *scriptedAssistant) Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error) {
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step(req)
}

func TestGenuineReplyClearsFallbackFlags(t *testing.T) {
	authErr := &assistant.ProviderError{Category: assistant.CategoryAuth, StatusCode: 401, Message: "invalid key"}
	a := &scriptedAssistant{steps: []func(models.AssistantRequest) (*models.AssistantResponse, error){
		func(req models.AssistantRequest) (*models.AssistantResponse, error) {
			return assistant.Fallback(authErr, req.SessionData), authErr
		},
		func(req models.AssistantRequest) (*models.AssistantResponse, error) {
			return &models.AssistantResponse{Response: models.AssistantReply{Text: "Ya estoy de vuelta"}, Actions: []models.Action{}}, nil
		},
	}}
	d := New(a, seededStore(t))
	ctx := context.Background()

	first := d.Dispatch(ctx, Request{Message: "hola", UserID: "u1", ChatID: "c1", SessionData: map[string]any{"turn": float64(1)}})
	if !first.Fallback || first.SessionData[assistant.SessionKeyFallback] != true {
		t.Fatalf("expected flagged fallback turn, got %+v", first)
	}

	second := d.Dispatch(ctx, Request{Message: "hola otra vez", UserID: "u1", ChatID: "c1", SessionData: first.SessionData})
	if second.Fallback {
		t.Fatal("genuine reply reported as fallback")
	}
	if _, ok := second.SessionData[assistant.SessionKeyFallback]; ok {
		t.Errorf("fallback flag survived a genuine reply: %v", second.SessionData)
	}
	if _, ok := second.SessionData[assistant.SessionKeyFallbackReason]; ok {
		t.Errorf("fallback reason survived a genuine reply: %v", second.SessionData)
	}
	if second.SessionData["turn"] != float64(1) {
		t.Errorf("other session keys should be kept, got %v", second.SessionData)
	}
	if first.SessionData[assistant.SessionKeyFallback] != true {
		t.Error("caller's map must not be modified")
	}
}

func TestNilResponseDegrades(t *testing.T) {
	res := dispatch(New(&stubAssistant{err: errors.New("boom")}, seededStore(t)), "hola")
	if !res.Fallback || res.Reply.Text == "" {
		t.Errorf("expected degraded reply, got %+v", res)
	}
	if res.SessionData["turn"] != float64(1) {
		t.Error("caller session data should be preserved")
	}
}

func TestHTTPRateLookup(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/USD" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"rates":{"EUR":0.9,"ARS":950}}`)
	}))
	defer srv.Close()

	l := NewHTTPRateLookup(srv.URL, nil)
	ctx := context.Background()
	rate, err := l.Rate(ctx, "usd", "EUR")
	if err != nil || rate != 0.9 {
		t.Fatalf("got %v %v", rate, err)
	}
	if _, err := l.Rate(ctx, "USD", "ARS"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("rate table should be cached, fetched %d times", n)
	}
	if _, err := l.Rate(ctx, "USD", "JPY"); err == nil {
		t.Error("expected error for missing rate")
	}
	if _, err := l.Rate(ctx, "BRL", "USD"); err == nil {
		t.Error("expected error for failed fetch")
	}
	if r, _ := l.Rate(ctx, "EUR", "eur"); r != 1 {
		t.Error("same currency should be identity")
	}
}
