package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/n2nstreams/rollout/pkg/types"
)

// TrafficCall records one SetTraffic invocation against the fake
type TrafficCall struct {
	Ref   types.ServiceRef
	Split Split
}

// Fake is an in-memory Target used by tests and dry runs. It tracks
// per-service revisions, traffic assignment, and every traffic call made.
type Fake struct {
	mu       sync.Mutex
	services map[string]*fakeService
	seq      int

	// TrafficCalls is the ordered log of SetTraffic invocations
	TrafficCalls []TrafficCall

	// Deleted is the ordered log of deleted revision names
	Deleted []string

	// FailSetTraffic makes the next N SetTraffic calls fail
	FailSetTraffic int

	// FailDeploy makes the next N Deploy calls fail
	FailDeploy int

	// FailDelete makes DeleteRevision fail for the named revisions
	FailDelete map[string]bool
}

type fakeService struct {
	url       string
	revisions []types.Revision
}

// NewFake creates an empty fake target
func NewFake() *Fake {
	return &Fake{
		services:   make(map[string]*fakeService),
		FailDelete: make(map[string]bool),
	}
}

// Seed installs a service with an initial stable revision serving 100%
func (f *Fake) Seed(ref types.ServiceRef, stableRevision, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[ref.Name()] = &fakeService{
		url: url,
		revisions: []types.Revision{{
			Name:           stableRevision,
			CreatedAt:      time.Now().Add(-time.Hour),
			TrafficPercent: 100,
			Tags:           []string{StableTag},
		}},
	}
}

// SeedRevisions installs a service with an explicit revision list
func (f *Fake) SeedRevisions(ref types.ServiceRef, url string, revisions []types.Revision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[ref.Name()] = &fakeService{url: url, revisions: revisions}
}

func (f *Fake) Deploy(ctx context.Context, ref types.ServiceRef, image string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDeploy > 0 {
		f.FailDeploy--
		return "", fmt.Errorf("injected deploy failure for %s", ref)
	}
	svc, err := f.service(ref)
	if err != nil {
		return "", err
	}
	f.seq++
	name := fmt.Sprintf("%s-%05d", ref.Service, f.seq)
	svc.revisions = append(svc.revisions, types.Revision{
		Name:           name,
		CreatedAt:      time.Now(),
		TrafficPercent: 0,
	})
	return name, nil
}

func (f *Fake) SetTraffic(ctx context.Context, ref types.ServiceRef, split Split) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TrafficCalls = append(f.TrafficCalls, TrafficCall{Ref: ref, Split: split})
	if f.FailSetTraffic > 0 {
		f.FailSetTraffic--
		return fmt.Errorf("injected traffic failure for %s", ref)
	}
	svc, err := f.service(ref)
	if err != nil {
		return err
	}
	for i := range svc.revisions {
		switch svc.revisions[i].Name {
		case split.Candidate:
			svc.revisions[i].TrafficPercent = split.Percent
		case split.Stable:
			svc.revisions[i].TrafficPercent = 100 - split.Percent
		default:
			svc.revisions[i].TrafficPercent = 0
		}
	}
	return nil
}

func (f *Fake) Describe(ctx context.Context, ref types.ServiceRef, revision string) (*types.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, err := f.service(ref)
	if err != nil {
		return nil, err
	}
	for i := range svc.revisions {
		if svc.revisions[i].Name == revision {
			rev := svc.revisions[i]
			return &rev, nil
		}
	}
	return nil, fmt.Errorf("revision %s not found in service %s", revision, ref)
}

func (f *Fake) ListRevisions(ctx context.Context, ref types.ServiceRef) ([]types.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, err := f.service(ref)
	if err != nil {
		return nil, err
	}
	out := make([]types.Revision, len(svc.revisions))
	copy(out, svc.revisions)
	return out, nil
}

func (f *Fake) DeleteRevision(ctx context.Context, ref types.ServiceRef, revision string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDelete[revision] {
		return fmt.Errorf("injected delete failure for %s", revision)
	}
	svc, err := f.service(ref)
	if err != nil {
		return err
	}
	for i := range svc.revisions {
		if svc.revisions[i].Name == revision {
			if svc.revisions[i].TrafficPercent > 0 {
				return fmt.Errorf("revision %s is serving traffic", revision)
			}
			svc.revisions = append(svc.revisions[:i], svc.revisions[i+1:]...)
			f.Deleted = append(f.Deleted, revision)
			return nil
		}
	}
	return fmt.Errorf("revision %s not found in service %s", revision, ref)
}

func (f *Fake) Tag(ctx context.Context, ref types.ServiceRef, revision, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, err := f.service(ref)
	if err != nil {
		return err
	}
	found := false
	for i := range svc.revisions {
		rev := &svc.revisions[i]
		if rev.Name == revision {
			found = true
			if !rev.HasTag(label) {
				rev.Tags = append(rev.Tags, label)
			}
			continue
		}
		for j, t := range rev.Tags {
			if t == label {
				rev.Tags = append(rev.Tags[:j], rev.Tags[j+1:]...)
				break
			}
		}
	}
	if !found {
		return fmt.Errorf("revision %s not found in service %s", revision, ref)
	}
	return nil
}

func (f *Fake) ServiceURL(ctx context.Context, ref types.ServiceRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, err := f.service(ref)
	if err != nil {
		return "", err
	}
	return svc.url, nil
}

// TrafficCallsFor returns the traffic calls made against one service
func (f *Fake) TrafficCallsFor(ref types.ServiceRef) []TrafficCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TrafficCall
	for _, c := range f.TrafficCalls {
		if c.Ref == ref {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) service(ref types.ServiceRef) (*fakeService, error) {
	svc, ok := f.services[ref.Name()]
	if !ok {
		return nil, fmt.Errorf("service %s not found", ref)
	}
	return svc, nil
}
