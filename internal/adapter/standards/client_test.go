package standards

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/standards"
)

func TestClientStandardsByTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/standards" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("tier"); got != "mandatory" {
			t.Errorf("tier = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"standards": []review.Standard{
				{ID: "std-1", Tier: "mandatory", Title: "Error wrapping", Content: "Wrap errors with context."},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(config.Standards{URL: srv.URL})
	stds, err := c.StandardsByTier(context.Background(), "mandatory")
	if err != nil {
		t.Fatalf("StandardsByTier: %v", err)
	}
	if len(stds) != 1 || stds[0].ID != "std-1" {
		t.Fatalf("standards = %+v", stds)
	}
}

func TestClientMirrorReview(t *testing.T) {
	var got standards.MirrorRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/reviews/mirror" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(config.Standards{URL: srv.URL, APIKey: "kb-key"})
	err := c.MirrorReview(context.Background(), standards.MirrorRecord{
		ReviewID: "rev-1",
		TaskID:   "task-1",
		Kind:     "decision",
		Verdict:  review.VerdictApproved,
		Summary:  "use pgx",
	})
	if err != nil {
		t.Fatalf("MirrorReview: %v", err)
	}
	if got.ReviewID != "rev-1" || got.Verdict != review.VerdictApproved {
		t.Fatalf("mirrored record = %+v", got)
	}
}

// memCache is a minimal in-memory cache for decorator tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// countingProvider counts upstream reads.
type countingProvider struct {
	calls int
	stds  []review.Standard
}

func (p *countingProvider) StandardsByTier(context.Context, string) ([]review.Standard, error) {
	p.calls++
	return p.stds, nil
}

func (p *countingProvider) Search(context.Context, string) ([]review.Standard, error) {
	p.calls++
	return p.stds, nil
}

func (p *countingProvider) MirrorReview(context.Context, standards.MirrorRecord) error {
	return nil
}

func TestCachedReadThrough(t *testing.T) {
	upstream := &countingProvider{stds: []review.Standard{{ID: "std-1", Tier: "mandatory"}}}
	c := NewCached(upstream, newMemCache(), time.Minute, slog.New(slog.DiscardHandler))

	for range 3 {
		stds, err := c.StandardsByTier(context.Background(), "mandatory")
		if err != nil {
			t.Fatalf("StandardsByTier: %v", err)
		}
		if len(stds) != 1 || stds[0].ID != "std-1" {
			t.Fatalf("standards = %+v", stds)
		}
	}
	if upstream.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", upstream.calls)
	}

	// A different tier misses and loads again.
	if _, err := c.StandardsByTier(context.Background(), "advisory"); err != nil {
		t.Fatalf("StandardsByTier: %v", err)
	}
	if upstream.calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", upstream.calls)
	}
}
