package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/metrics"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// Service wraps a Client with retries and the fallback reply.
type Service struct {
	client  Client
	policy  RetryPolicy
	metrics *metrics.Metrics
}

// NewService creates a Service. m may be nil.
func NewService(client Client, policy RetryPolicy, m *metrics.Metrics) *Service {
	return &Service{client: client, policy: policy, metrics: m}
}

// Ask returns the assistant's response. When every attempt fails it returns
// the fallback response together with the last error, so the caller always has
// something to send to the user.
func (s *Service) Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error) {
	start := time.Now()
	policy := s.policy
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		slog.Warn("Service.Ask: transient assistant failure, retrying", "userID", req.UserID, "attempt", attempt, "delay", delay, "category", CategoryOf(err), "error", err)
		s.metrics.AssistantRetry()
		if userOnRetry != nil {
			userOnRetry(attempt, delay, err)
		}
	}

	var resp *models.AssistantResponse
	err := policy.Do(ctx, func(ctx context.Context) error {
		r, err := s.client.Ask(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		cat := CategoryOf(err)
		slog.Error("Service.Ask: assistant unavailable, using fallback", "userID", req.UserID, "category", cat, "error", err)
		s.metrics.AssistantCall(string(cat), elapsed)
		return Fallback(err, req.SessionData), err
	}
	s.metrics.AssistantCall("ok", elapsed)
	return resp, nil
}
