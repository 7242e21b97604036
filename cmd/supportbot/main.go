// Command supportbot runs the customer-support chat agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/api"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/assistant"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/config"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/dispatcher"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/guarantee"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/lockfile"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/messaging"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/metrics"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/recovery"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/scheduler"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/session"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/supervisor"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/survey"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/timeout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "supportbot: %v\n", err)
		os.Exit(2)
	}
	initializeLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("supportbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("supportbot exited successfully")
}

// initializeLogger sets up the default structured logger.
func initializeLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg *config.Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	sessions, closeSessions := buildSessionRepository(ctx, cfg, st)
	defer closeSessions()

	timeouts := timeout.NewManager()
	defer timeouts.Stop()
	metrics.RegisterActiveTimers(reg, timeouts.ActiveCount)

	client, err := buildAssistantClient(cfg)
	if err != nil {
		return err
	}
	policy := assistant.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.AssistantMaxRetries
	assist := assistant.NewService(client, policy, met)

	dispOpts := []dispatcher.Option{
		dispatcher.WithCatalogLimits(cfg.CatalogDefaultLimit, cfg.CatalogMaxLimit),
		dispatcher.WithMetrics(met),
	}
	if cfg.CurrencyAPIURL != "" {
		dispOpts = append(dispOpts, dispatcher.WithRateLookup(dispatcher.NewHTTPRateLookup(cfg.CurrencyAPIURL, &http.Client{Timeout: 10 * time.Second})))
	}
	disp := dispatcher.New(assist, st, dispOpts...)

	sup, err := supervisor.New(supervisor.Deps{
		Repos:      st,
		Sessions:   sessions,
		Timeouts:   timeouts,
		Guarantees: guarantee.NewEngine(st),
		Surveys:    survey.NewEngine(st),
		Dispatcher: disp,
	}, supervisor.WithTimeoutMinutes(cfg.TimeoutMinutes), supervisor.WithMetrics(met))
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	transport, apiOpts, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", transport.Name(), err)
	}
	router := messaging.NewRouter(transport, sup, messaging.WithDedup(st), messaging.WithRouterMetrics(met))
	sup.SetNotifier(router)

	// Expired windows fire as soon as they are re-armed, so the notifier must be set first.
	rm := recovery.NewRecoveryManager(st, sessions)
	rm.RegisterTimerRecovery(recovery.TimerRecoveryHandler(timeouts))
	rm.RegisterRecoverable(recovery.NewConversationTimers(cfg.TimeoutMinutes))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("supportbot: startup recovery incomplete", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := scheduler.ScheduleDedupPruning(sched, scheduler.DefaultPruneSchedule, scheduler.NewDedupPruner(st, cfg.DedupRetention)); err != nil {
		return err
	}

	router.Start(ctx)

	apiOpts = append(apiOpts, api.WithTimers(timeouts), api.WithMessages(st), api.WithGatherer(reg))
	server := api.NewServer(cfg.APIAddr, apiOpts...)
	slog.Info("supportbot: running", "transport", transport.Name(), "apiAddr", cfg.APIAddr, "timeoutMinutes", cfg.TimeoutMinutes)
	serveErr := server.Run(ctx)

	// Pending inactivity timers are dropped on shutdown and re-armed by recovery on the next start.
	timeouts.Stop()
	if err := transport.Stop(); err != nil {
		slog.Warn("supportbot: transport stop failed", "error", err)
	}
	router.Wait()
	return serveErr
}

// buildSessionRepository layers the Redis cache over the store when redis_addr is set.
func buildSessionRepository(ctx context.Context, cfg *config.Config, st store.Store) (session.Repository, func()) {
	durable := session.NewStoreRepository(st)
	if cfg.RedisAddr == "" {
		return durable, func() {}
	}
	cache := session.NewRedisRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, session.WithTTL(cfg.SessionTTL))
	if err := cache.Ping(ctx); err != nil {
		slog.Warn("supportbot: redis unreachable, sessions will use the store until it recovers", "addr", cfg.RedisAddr, "error", err)
	}
	return session.NewLayered(cache, durable), func() { cache.Close() }
}

func buildAssistantClient(cfg *config.Config) (assistant.Client, error) {
	switch cfg.AssistantProvider {
	case config.ProviderOpenAI:
		c, err := assistant.NewOpenAIClient(cfg.OpenAIAPIKey,
			assistant.WithModel(cfg.OpenAIModel),
			assistant.WithRequestTimeout(cfg.AssistantTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai assistant: %w", err)
		}
		return c, nil
	default:
		opts := []assistant.HTTPOption{assistant.WithTimeout(cfg.AssistantTimeout)}
		if cfg.AssistantAPIKey != "" {
			opts = append(opts, assistant.WithAPIKey(cfg.AssistantAPIKey))
		}
		return assistant.NewHTTPClient(cfg.AssistantURL, opts...), nil
	}
}

// buildTransport creates the configured transport and the API routes it needs.
func buildTransport(ctx context.Context, cfg *config.Config) (messaging.Transport, []api.Option, error) {
	switch cfg.Transport {
	case config.TransportWhatsApp:
		waOpts := []messaging.WhatsAppOption{messaging.WithDBDSN(cfg.WhatsAppDBDSN)}
		if cfg.WhatsAppQROutput != "" {
			waOpts = append(waOpts, messaging.WithQRCodeOutput(cfg.WhatsAppQROutput))
		}
		if cfg.WhatsAppNumeric {
			waOpts = append(waOpts, messaging.WithNumericCode())
		}
		t, err := messaging.NewWhatsAppTransport(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create whatsapp transport: %w", err)
		}
		return t, nil, nil
	case config.TransportMock:
		t := messaging.NewMockTransport(true)
		return t, []api.Option{api.WithInjector(t)}, nil
	default:
		t, err := messaging.NewTwilioTransport(
			messaging.WithAccountSID(cfg.TwilioAccountSID),
			messaging.WithAuthToken(cfg.TwilioAuthToken),
			messaging.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create twilio transport: %w", err)
		}
		return t, []api.Option{api.WithTwilioWebhook(t.WebhookHandler)}, nil
	}
}
