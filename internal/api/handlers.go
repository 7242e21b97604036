package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/messaging"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/go-chi/chi/v5"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
	maxInboundBody      = 64 << 10
)

type healthStatus struct {
	Uptime       string `json:"uptime"`
	ActiveTimers int    `json:"active_timers"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.opts.Timers != nil {
		status.ActiveTimers = s.opts.Timers.ActiveCount()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) timeoutsHandler(w http.ResponseWriter, r *http.Request) {
	timers := s.opts.Timers.List()
	if timers == nil {
		timers = []models.TimerInfo{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(timers))
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, maxMessageLimit)
	}

	msgs, err := s.opts.Messages.ListMessages(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Server.messagesHandler: failed to list messages", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

func (s *Server) inboundHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var ev messaging.Inbound
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInboundBody)).Decode(&ev); err != nil {
		slog.Warn("Server.inboundHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if ev.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	if ev.ChatID == "" {
		ev.ChatID = ev.UserID
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := s.opts.Injector.Inject(ev); err != nil {
		slog.Warn("Server.inboundHandler: event rejected", "userID", ev.UserID, "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Success(nil))
}
