// Package standards defines the read-only port to the institutional
// knowledge base of policy standards.
package standards

import (
	"context"

	"github.com/wardenhq/warden/internal/domain/review"
)

// MirrorRecord is a completed review verdict written back into the
// knowledge base for future lookups. The write path is fire-and-forget
// relative to the checkpoint caller.
type MirrorRecord struct {
	ReviewID string         `json:"review_id"`
	TaskID   string         `json:"task_id"`
	Kind     string         `json:"kind"`
	Verdict  review.Verdict `json:"verdict"`
	Summary  string         `json:"summary"`
	Guidance string         `json:"guidance,omitempty"`
}

// Provider is the port interface to the standards knowledge base. Only the
// two read calls and the mirroring write are exposed to this subsystem; the
// knowledge base's own persistence and tiering rules are out of scope.
type Provider interface {
	StandardsByTier(ctx context.Context, tier string) ([]review.Standard, error)
	Search(ctx context.Context, query string) ([]review.Standard, error)
	MirrorReview(ctx context.Context, rec MirrorRecord) error
}
