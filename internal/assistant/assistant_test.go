package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const validReply = `{"response":{"text":"Hola, ¿en qué te ayudo?"},"actions":[{"command":"CONSULT_SCHEDULE"}],"session_data":{"topic":"horario"}}`

func testRequest() models.AssistantRequest {
	return models.AssistantRequest{
		Message:     "¿A qué hora abren?",
		UserID:      "u1",
		ChatID:      "c1",
		SessionData: map[string]any{"thread": "t1"},
		Timestamp:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestParseResponseValid(t *testing.T) {
	resp, err := ParseResponse([]byte(validReply))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response.Text != "Hola, ¿en qué te ayudo?" {
		t.Errorf("unexpected text %q", resp.Response.Text)
	}
	if len(resp.Actions) != 1 || resp.Actions[0].Command != models.CommandConsultSchedule {
		t.Errorf("unexpected actions %+v", resp.Actions)
	}
	if resp.SessionData["topic"] != "horario" {
		t.Errorf("unexpected session data %+v", resp.SessionData)
	}
}

func TestParseResponseRejectsProtocolViolations(t *testing.T) {
	cases := map[string]string{
		"not json":         `hola`,
		"missing response": `{"actions":[]}`,
		"text not string":  `{"response":{"text":42},"actions":[]}`,
		"actions object":   `{"response":{"text":"x"},"actions":{"command":"X"}}`,
		"actions null":     `{"response":{"text":"x"},"actions":null}`,
		"actions missing":  `{"response":{"text":"x"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseResponse([]byte(raw)); !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("expected ErrInvalidResponse, got %v", err)
			}
		})
	}
}

func TestParseResponseEmptyActions(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"response":{"text":"ok"},"actions":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Actions == nil || len(resp.Actions) != 0 {
		t.Errorf("expected empty non-nil actions, got %#v", resp.Actions)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		want      Category
		transient bool
	}{
		{429, `{"error":"rate limit"}`, CategoryRateLimited, true},
		{429, `{"error":"You exceeded your current quota"}`, CategoryQuota, false},
		{529, ``, CategoryOverloaded, true},
		{500, `{"error":"Overloaded"}`, CategoryOverloaded, true},
		{502, ``, CategoryServer, true},
		{504, ``, CategoryTimeout, true},
		{401, ``, CategoryAuth, false},
		{400, ``, CategoryBadRequest, false},
	}
	for _, tc := range cases {
		pe := newStatusError(tc.status, tc.body)
		if pe.Category != tc.want {
			t.Errorf("status %d body %q: got %s want %s", tc.status, tc.body, pe.Category, tc.want)
		}
		if pe.Transient() != tc.transient {
			t.Errorf("status %d: transient=%v want %v", tc.status, pe.Transient(), tc.transient)
		}
	}
}

func TestHTTPClientAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		body, _ := io.ReadAll(r.Body)
		var req models.AssistantRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.UserID != "u1" || req.SessionData["thread"] != "t1" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, validReply)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithAPIKey("secret"))
	resp, err := c.Ask(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Actions) != 1 {
		t.Errorf("expected one action, got %d", len(resp.Actions))
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"overloaded"}`)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Ask(context.Background(), testRequest())
	if CategoryOf(err) != CategoryOverloaded || !IsTransient(err) {
		t.Fatalf("expected transient overloaded error, got %v", err)
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, WithTimeout(20*time.Millisecond)).Ask(context.Background(), testRequest())
	if CategoryOf(err) != CategoryTimeout {
		t.Fatalf("expected timeout category, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("timeouts should be retried")
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Rand = func() float64 { return 0.5 } // no jitter
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("attempt %d: got %v want %v", i+1, got, w)
		}
	}

	p.Rand = func() float64 { return 0 }
	if got := p.Delay(1); got != 750*time.Millisecond {
		t.Errorf("min jitter: got %v", got)
	}
	p.Rand = func() float64 { return 0.999999 }
	if got := p.Delay(6); got != 30*time.Second {
		t.Errorf("jittered delay must be capped, got %v", got)
	}
}

func TestRetryPolicyDelayWithoutCap(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 64 * time.Second}
	for i, attempt := range []int{1, 2, 3, 4, 7} {
		if got := p.Delay(attempt); got != want[i] {
			t.Errorf("attempt %d: got %v want %v", attempt, got, want[i])
		}
	}
}

func TestOpenAIRequestTimeoutOption(t *testing.T) {
	if got := applyOpenAIOpts(nil).Timeout; got != DefaultRequestTimeout {
		t.Errorf("expected default timeout, got %v", got)
	}
	if got := applyOpenAIOpts([]OpenAIOption{WithRequestTimeout(7 * time.Second)}).Timeout; got != 7*time.Second {
		t.Errorf("expected overridden timeout, got %v", got)
	}
	if got := applyOpenAIOpts([]OpenAIOption{WithRequestTimeout(0)}).Timeout; got != DefaultRequestTimeout {
		t.Errorf("zero timeout should fall back to the default, got %v", got)
	}
}

type scriptedClient struct {
	errs  []error
	calls int32
}

func (c *scriptedClient) Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error) {
	n := int(atomic.AddInt32(&c.calls, 1)) - 1
	if n < len(c.errs) && c.errs[n] != nil {
		return nil, c.errs[n]
	}
	return ParseResponse([]byte(validReply))
}

func instantPolicy(attempts int, waits *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.Rand = func() float64 { return 0.5 }
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestServiceRetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{errs: []error{
		&ProviderError{Category: CategoryOverloaded, StatusCode: 529},
		&ProviderError{Category: CategoryRateLimited, StatusCode: 429},
	}}
	var waits []time.Duration
	svc := NewService(client, instantPolicy(3, &waits), nil)

	resp, err := svc.Ask(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SessionData[SessionKeyFallback] != nil {
		t.Error("successful reply must not be flagged as fallback")
	}
	if client.calls != 3 {
		t.Errorf("expected 3 calls, got %d", client.calls)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Errorf("unexpected backoff %v", waits)
	}
}

func TestServiceFallbackAfterExhaustion(t *testing.T) {
	overloaded := &ProviderError{Category: CategoryOverloaded, StatusCode: 529}
	client := &scriptedClient{errs: []error{overloaded, overloaded, overloaded}}
	var waits []time.Duration
	svc := NewService(client, instantPolicy(3, &waits), nil)

	resp, err := svc.Ask(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected the cause to be returned")
	}
	if resp == nil || !strings.Contains(resp.Response.Text, "muchas consultas") {
		t.Fatalf("expected overloaded fallback, got %+v", resp)
	}
	if resp.SessionData[SessionKeyFallback] != true || resp.SessionData[SessionKeyFallbackReason] != string(CategoryOverloaded) {
		t.Errorf("missing fallback flags: %+v", resp.SessionData)
	}
	if resp.SessionData["thread"] != "t1" {
		t.Error("caller session data must be preserved")
	}
	if len(resp.Actions) != 0 {
		t.Error("fallback must not carry actions")
	}
}

func TestServiceDoesNotRetryPermanentErrors(t *testing.T) {
	client := &scriptedClient{errs: []error{&ProviderError{Category: CategoryQuota, StatusCode: 429}}}
	var waits []time.Duration
	svc := NewService(client, instantPolicy(3, &waits), nil)

	resp, err := svc.Ask(context.Background(), testRequest())
	if err == nil || client.calls != 1 || len(waits) != 0 {
		t.Fatalf("quota errors must not be retried: calls=%d waits=%v err=%v", client.calls, waits, err)
	}
	if resp.SessionData[SessionKeyFallbackReason] != string(CategoryQuota) {
		t.Errorf("unexpected reason %v", resp.SessionData[SessionKeyFallbackReason])
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	p := DefaultRetryPolicy()
	p.BaseDelay = time.Hour
	p.MaxDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return &ProviderError{Category: CategoryServer}
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call and an error, got calls=%d err=%v", calls, err)
	}
}

type fakeChat struct {
	content string
	err     error
	got     openai.ChatCompletionNewParams
}

func (f *fakeChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = body
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}}}, nil
}

func TestOpenAIClientParsesFencedJSON(t *testing.T) {
	chat := &fakeChat{content: "```json\n" + validReply + "\n```"}
	c := newOpenAIClientWithService(chat, WithModel("gpt-test"))

	resp, err := c.Ask(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response.Text == "" {
		t.Error("expected reply text")
	}
	if chat.got.Model != "gpt-test" || len(chat.got.Messages) != 2 {
		t.Errorf("unexpected params: model=%s messages=%d", chat.got.Model, len(chat.got.Messages))
	}
}

func TestOpenAIClientInvalidContent(t *testing.T) {
	c := newOpenAIClientWithService(&fakeChat{content: "Claro, con gusto te ayudo."})
	_, err := c.Ask(context.Background(), testRequest())
	if CategoryOf(err) != CategoryInvalidResponse || IsTransient(err) {
		t.Fatalf("expected permanent invalid response, got %v", err)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	c := newOpenAIClientWithService(&fakeChat{err: &openai.Error{StatusCode: 429, Message: "You exceeded your current quota"}})
	_, err := c.Ask(context.Background(), testRequest())
	if CategoryOf(err) != CategoryQuota {
		t.Fatalf("expected quota category, got %s", CategoryOf(err))
	}
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(""); err == nil {
		t.Error("expected error without api key")
	}
}
