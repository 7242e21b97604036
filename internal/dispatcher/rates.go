package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// RateLookup returns the multiplier converting an amount in from into to.
type RateLookup interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// DefaultRateTTL is how long HTTPRateLookup reuses a fetched rate table.
const DefaultRateTTL = time.Hour

// HTTPRateLookup fetches rate tables from an endpoint serving
// GET {base}/{FROM} -> {"rates": {"USD": 1.0, ...}}.
type HTTPRateLookup struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]rateTable
}

type rateTable struct {
	rates     map[string]float64
	fetchedAt time.Time
}

// NewHTTPRateLookup creates a lookup against baseURL. client may be nil.
func NewHTTPRateLookup(baseURL string, client *http.Client) *HTTPRateLookup {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRateLookup{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		ttl:     DefaultRateTTL,
		now:     time.Now,
		cache:   map[string]rateTable{},
	}
}

// Rate implements RateLookup.
func (l *HTTPRateLookup) Rate(ctx context.Context, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return 1, nil
	}
	table, err := l.table(ctx, from)
	if err != nil {
		return 0, err
	}
	rate, ok := table[to]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no rate from %s to %s", from, to)
	}
	return rate, nil
}

func (l *HTTPRateLookup) table(ctx context.Context, base string) (map[string]float64, error) {
	l.mu.Lock()
	cached, ok := l.cache[base]
	l.mu.Unlock()
	if ok && l.now().Sub(cached.fetchedAt) < l.ttl {
		return cached.rates, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/"+url.PathEscape(base), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate service returned status %d", resp.StatusCode)
	}
	var body struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode rates: %w", err)
	}

	l.mu.Lock()
	l.cache[base] = rateTable{rates: body.Rates, fetchedAt: l.now()}
	l.mu.Unlock()
	return body.Rates, nil
}
