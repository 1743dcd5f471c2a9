package target

import (
	"context"
	"time"

	"github.com/n2nstreams/rollout/pkg/types"
)

// Split describes a candidate/stable traffic division. The candidate holds
// Percent; the stable revision implicitly holds the complement.
type Split struct {
	Candidate string
	Stable    string
	Percent   int
}

// Target is the deployment platform the controller drives. Implementations
// wrap a traffic-splitting API (Cloud Run) or an in-memory fake.
type Target interface {
	// Deploy creates a new traffic-dark revision from the image and returns
	// its revision name. Existing traffic assignment is preserved.
	Deploy(ctx context.Context, ref types.ServiceRef, image string) (string, error)

	// SetTraffic applies the split to the service in a single call
	SetTraffic(ctx context.Context, ref types.ServiceRef, split Split) error

	// Describe returns the current state of one revision
	Describe(ctx context.Context, ref types.ServiceRef, revision string) (*types.Revision, error)

	// ListRevisions returns all revisions of the service with their current
	// traffic shares and tags
	ListRevisions(ctx context.Context, ref types.ServiceRef) ([]types.Revision, error)

	// DeleteRevision removes a revision. Callers must never delete a revision
	// carrying traffic.
	DeleteRevision(ctx context.Context, ref types.ServiceRef, revision string) error

	// Tag applies a label to a revision, removing it from any other revision
	// of the same service. A label swap changes no traffic.
	Tag(ctx context.Context, ref types.ServiceRef, revision, label string) error

	// ServiceURL returns the endpoint used for health probes
	ServiceURL(ctx context.Context, ref types.ServiceRef) (string, error)
}

// StableTag is the label carried by the trusted revision of a service
const StableTag = "stable"

// Retry runs fn up to attempts times, waiting backoff (doubled each try)
// between failures. It returns the last error if every attempt fails.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
