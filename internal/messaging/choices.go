package messaging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// ChoiceHooks remembers the choices last offered in each chat so a plain text
// reply can be turned back into callback data on transports without buttons.
type ChoiceHooks struct {
	mu    sync.RWMutex
	hooks map[string][]models.Choice
}

// NewChoiceHooks creates an empty registry.
func NewChoiceHooks() *ChoiceHooks {
	return &ChoiceHooks{hooks: make(map[string][]models.Choice)}
}

// Register replaces the pending choices for chatID.
func (h *ChoiceHooks) Register(chatID string, choices []models.Choice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[chatID] = append([]models.Choice(nil), choices...)
	slog.Debug("ChoiceHooks.Register: choices registered", "chatID", chatID, "count", len(choices))
}

// Unregister drops the pending choices for chatID.
func (h *ChoiceHooks) Unregister(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.hooks, chatID)
}

// IsRegistered reports whether chatID has pending choices.
func (h *ChoiceHooks) IsRegistered(chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.hooks[chatID]
	return ok
}

// Count returns the number of chats with pending choices.
func (h *ChoiceHooks) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks)
}

// Resolve matches text against the pending choices of chatID by position
// (1-based), label, or callback data. A match consumes the choices.
func (h *ChoiceHooks) Resolve(chatID, text string) (string, bool) {
	text = strings.TrimSpace(text)
	h.mu.Lock()
	defer h.mu.Unlock()
	choices, ok := h.hooks[chatID]
	if !ok || text == "" {
		return "", false
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(choices) {
		delete(h.hooks, chatID)
		return choices[n-1].Data, true
	}
	for _, c := range choices {
		if strings.EqualFold(text, c.Label) || text == c.Data {
			delete(h.hooks, chatID)
			return c.Data, true
		}
	}
	return "", false
}

// RenderChoices appends numbered options to text for transports without buttons.
func RenderChoices(text string, choices []models.Choice) string {
	if len(choices) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for i, c := range choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
	}
	b.WriteString("\n\nResponde con el número de tu opción.")
	return b.String()
}
