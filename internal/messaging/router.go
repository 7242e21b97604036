package messaging

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/metrics"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

// DefaultWorkers is the number of router workers.
const DefaultWorkers = 8

// Handler processes inbound events. *supervisor.Supervisor satisfies it.
type Handler interface {
	HandleInboundText(ctx context.Context, userID, chatID, text string) (models.OutboundActions, error)
	HandleInboundPhoto(ctx context.Context, userID, chatID string, photos []models.PhotoRef, caption string) (models.OutboundActions, error)
	HandleCallback(ctx context.Context, userID, chatID, data string) (models.OutboundActions, error)
}

// RouterOpts configures a Router.
type RouterOpts struct {
	Workers int
	Dedup   store.DedupRepo
	Metrics *metrics.Metrics
}

// RouterOption sets a field on RouterOpts.
type RouterOption func(*RouterOpts)

// WithWorkers sets the number of workers.
func WithWorkers(n int) RouterOption {
	return func(o *RouterOpts) { o.Workers = n }
}

// WithDedup drops inbound events whose message id was already recorded.
func WithDedup(d store.DedupRepo) RouterOption {
	return func(o *RouterOpts) { o.Dedup = d }
}

// WithRouterMetrics records delivery failures.
func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(o *RouterOpts) { o.Metrics = m }
}

// Router feeds a transport's events to a Handler. Events for one user are
// always handled by the same worker, so they are processed in arrival order.
type Router struct {
	transport Transport
	handler   Handler
	hooks     *ChoiceHooks
	opts      RouterOpts

	queues []chan Inbound
	wg     sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(t Transport, h Handler, opts ...RouterOption) *Router {
	cfg := RouterOpts{Workers: DefaultWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Router{transport: t, handler: h, hooks: NewChoiceHooks(), opts: cfg}
}

// Hooks exposes the choice registry.
func (r *Router) Hooks() *ChoiceHooks {
	return r.hooks
}

// Start launches the workers and the event loop. It returns immediately; the
// loop stops when ctx is done or the transport closes its event channel.
func (r *Router) Start(ctx context.Context) {
	slog.Info("Router.Start: starting", "transport", r.transport.Name(), "workers", r.opts.Workers)
	r.queues = make([]chan Inbound, r.opts.Workers)
	for i := range r.queues {
		q := make(chan Inbound, DefaultChannelBufferSize)
		r.queues[i] = q
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for ev := range q {
				r.Handle(ctx, ev)
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			for _, q := range r.queues {
				close(q)
			}
		}()
		events := r.transport.Events()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					slog.Debug("Router.Start: transport events closed")
					return
				}
				select {
				case r.queues[r.shard(ev.UserID)] <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				slog.Debug("Router.Start: stopping due to context cancellation")
				return
			}
		}
	}()
}

// Wait blocks until the event loop and workers have exited.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) shard(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(r.queues)))
}

// Handle processes one inbound event synchronously and delivers the reply.
func (r *Router) Handle(ctx context.Context, ev Inbound) {
	if ev.UserID == "" || ev.ChatID == "" {
		slog.Warn("Router.Handle: dropping event without user or chat", "messageID", ev.MessageID)
		return
	}
	if r.opts.Dedup != nil && ev.MessageID != "" {
		fresh, err := r.opts.Dedup.RecordInbound(ctx, ev.MessageID, ev.UserID)
		if err != nil {
			slog.Warn("Router.Handle: dedup check failed, processing anyway", "messageID", ev.MessageID, "error", err)
		} else if !fresh {
			slog.Info("Router.Handle: duplicate event dropped", "messageID", ev.MessageID, "userID", ev.UserID)
			return
		}
	}

	out, err := r.dispatch(ctx, ev)
	if err != nil {
		slog.Error("Router.Handle: handler rejected event", "userID", ev.UserID, "kind", ev.Kind(), "error", err)
		return
	}
	if err := r.Deliver(ctx, out); err != nil {
		slog.Error("Router.Handle: delivery incomplete", "userID", ev.UserID, "error", err)
	}

	if r.opts.Dedup != nil && ev.MessageID != "" {
		if err := r.opts.Dedup.MarkProcessed(ctx, ev.MessageID); err != nil {
			slog.Warn("Router.Handle: failed to mark event processed", "messageID", ev.MessageID, "error", err)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, ev Inbound) (models.OutboundActions, error) {
	switch ev.Kind() {
	case "callback":
		r.hooks.Unregister(ev.ChatID)
		return r.handler.HandleCallback(ctx, ev.UserID, ev.ChatID, ev.CallbackData)
	case "photo":
		return r.handler.HandleInboundPhoto(ctx, ev.UserID, ev.ChatID, ev.Photos, ev.Text)
	default:
		if data, ok := r.hooks.Resolve(ev.ChatID, ev.Text); ok {
			slog.Debug("Router.dispatch: text matched a pending choice", "userID", ev.UserID, "data", data)
			return r.handler.HandleCallback(ctx, ev.UserID, ev.ChatID, data)
		}
		return r.handler.HandleInboundText(ctx, ev.UserID, ev.ChatID, ev.Text)
	}
}

// Deliver sends every outbound action in order. A failed action does not stop
// the remaining ones; all failures are returned joined.
func (r *Router) Deliver(ctx context.Context, out models.OutboundActions) error {
	var errs []error
	for _, o := range out {
		if err := r.deliverOne(ctx, o); err != nil {
			r.opts.Metrics.DeliveryFailed(string(o.Kind))
			errs = append(errs, fmt.Errorf("failed to deliver %s to %s: %w", o.Kind, o.ChatID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) deliverOne(ctx context.Context, o models.Outbound) error {
	switch o.Kind {
	case models.OutboundText:
		text := o.Text
		if len(o.Choices) > 0 && !r.transport.SupportsChoices() {
			r.hooks.Register(o.ChatID, o.Choices)
			text = RenderChoices(text, o.Choices)
		}
		return r.transport.SendText(ctx, o.ChatID, text, TextOptions{ParseMode: o.ParseMode, ReplyMarkup: o.ReplyMarkup, Choices: o.Choices})
	case models.OutboundPhoto:
		return r.transport.SendPhoto(ctx, o.ChatID, o.PhotoRef, o.Caption)
	case models.OutboundDelete:
		err := r.transport.DeleteMessage(ctx, o.ChatID, o.MessageID)
		if errors.Is(err, ErrUnsupported) {
			slog.Debug("Router.deliverOne: delete not supported", "transport", r.transport.Name())
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown outbound kind %q", strings.TrimSpace(string(o.Kind)))
	}
}
