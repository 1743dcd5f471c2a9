package target

import (
	"context"
	"fmt"
	"strings"
	"time"

	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/n2nstreams/rollout/pkg/log"
	"github.com/n2nstreams/rollout/pkg/types"
)

// CloudRun implements Target against the Cloud Run Admin API v2
type CloudRun struct {
	services  *run.ServicesClient
	revisions *run.RevisionsClient
	logger    zerolog.Logger

	// RequestTimeout caps the revision request timeout set on deploys
	RequestTimeout time.Duration
}

// CloudRunOptions configures the Cloud Run client
type CloudRunOptions struct {
	// Endpoint overrides the API endpoint (default run.googleapis.com:443)
	Endpoint string

	// CredentialsFile is an optional service account key path
	CredentialsFile string
}

// NewCloudRun creates a Cloud Run backed target
func NewCloudRun(ctx context.Context, opts CloudRunOptions) (*CloudRun, error) {
	var clientOpts []option.ClientOption
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	services, err := run.NewServicesClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create services client: %w", err)
	}
	revisions, err := run.NewRevisionsClient(ctx, clientOpts...)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create revisions client: %w", err)
	}

	return &CloudRun{
		services:       services,
		revisions:      revisions,
		logger:         log.WithComponent("cloudrun"),
		RequestTimeout: 5 * time.Minute,
	}, nil
}

// Close releases the underlying API clients
func (c *CloudRun) Close() error {
	if err := c.services.Close(); err != nil {
		c.revisions.Close()
		return err
	}
	return c.revisions.Close()
}

// Deploy updates the service template with the new image while pinning all
// traffic to the current assignment, so the new revision comes up dark
func (c *CloudRun) Deploy(ctx context.Context, ref types.ServiceRef, image string) (string, error) {
	svc, err := c.getService(ctx, ref)
	if err != nil {
		return "", err
	}

	if svc.Template == nil || len(svc.Template.Containers) == 0 {
		return "", fmt.Errorf("service %s has no container template", ref)
	}
	svc.Template.Containers[0].Image = image
	// Let the server pick the revision name
	svc.Template.Revision = ""
	if c.RequestTimeout > 0 && svc.Template.Timeout == nil {
		svc.Template.Timeout = durationpb.New(c.RequestTimeout)
	}

	// Pin traffic to the currently serving revisions so the deploy itself
	// shifts nothing
	svc.Traffic = pinnedTraffic(svc)

	c.logger.Info().
		Str("service", ref.String()).
		Str("image", image).
		Msg("deploying traffic-dark revision")

	op, err := c.services.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: svc})
	if err != nil {
		return "", fmt.Errorf("failed to update service %s: %w", ref, err)
	}
	updated, err := op.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to wait for deploy of %s: %w", ref, err)
	}

	revision := shortName(updated.LatestCreatedRevision)
	c.logger.Info().
		Str("service", ref.String()).
		Str("revision", revision).
		Msg("revision deployed")
	return revision, nil
}

// SetTraffic applies the candidate/stable split in a single service update
func (c *CloudRun) SetTraffic(ctx context.Context, ref types.ServiceRef, split Split) error {
	svc, err := c.getService(ctx, ref)
	if err != nil {
		return err
	}

	var traffic []*runpb.TrafficTarget
	if split.Percent > 0 {
		traffic = append(traffic, &runpb.TrafficTarget{
			Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
			Revision: split.Candidate,
			Percent:  int32(split.Percent),
		})
	}
	if split.Percent < 100 {
		traffic = append(traffic, &runpb.TrafficTarget{
			Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
			Revision: split.Stable,
			Percent:  int32(100 - split.Percent),
		})
	}
	// Carry existing tags forward so a traffic change never drops labels
	for _, t := range svc.Traffic {
		if t.Tag == "" {
			continue
		}
		tagged := false
		for _, nt := range traffic {
			if nt.Revision == t.Revision {
				nt.Tag = t.Tag
				tagged = true
				break
			}
		}
		if !tagged {
			traffic = append(traffic, &runpb.TrafficTarget{
				Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
				Revision: t.Revision,
				Percent:  0,
				Tag:      t.Tag,
			})
		}
	}
	svc.Traffic = traffic

	c.logger.Info().
		Str("service", ref.String()).
		Str("candidate", split.Candidate).
		Str("stable", split.Stable).
		Int("percent", split.Percent).
		Msg("setting traffic split")

	op, err := c.services.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: svc})
	if err != nil {
		return fmt.Errorf("failed to set traffic on %s: %w", ref, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for traffic update on %s: %w", ref, err)
	}
	return nil
}

// Describe returns one revision with its current traffic share
func (c *CloudRun) Describe(ctx context.Context, ref types.ServiceRef, revision string) (*types.Revision, error) {
	revs, err := c.ListRevisions(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i := range revs {
		if revs[i].Name == revision {
			return &revs[i], nil
		}
	}
	return nil, fmt.Errorf("revision %s not found in service %s", revision, ref)
}

// ListRevisions returns all revisions with traffic shares and tags
func (c *CloudRun) ListRevisions(ctx context.Context, ref types.ServiceRef) ([]types.Revision, error) {
	svc, err := c.getService(ctx, ref)
	if err != nil {
		return nil, err
	}

	percents := make(map[string]int)
	tags := make(map[string][]string)
	for _, t := range svc.TrafficStatuses {
		name := shortName(t.Revision)
		percents[name] += int(t.Percent)
		if t.Tag != "" {
			tags[name] = append(tags[name], t.Tag)
		}
	}
	// Fall back to desired traffic when statuses are not populated yet
	if len(svc.TrafficStatuses) == 0 {
		for _, t := range svc.Traffic {
			name := shortName(t.Revision)
			percents[name] += int(t.Percent)
			if t.Tag != "" {
				tags[name] = append(tags[name], t.Tag)
			}
		}
	}

	var out []types.Revision
	it := c.revisions.ListRevisions(ctx, &runpb.ListRevisionsRequest{Parent: ref.Name()})
	for {
		rev, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list revisions of %s: %w", ref, err)
		}
		name := shortName(rev.Name)
		out = append(out, types.Revision{
			Name:           name,
			CreatedAt:      rev.CreateTime.AsTime(),
			TrafficPercent: percents[name],
			Tags:           tags[name],
		})
	}
	return out, nil
}

// DeleteRevision removes a revision and waits for completion
func (c *CloudRun) DeleteRevision(ctx context.Context, ref types.ServiceRef, revision string) error {
	name := fmt.Sprintf("%s/revisions/%s", ref.Name(), revision)
	op, err := c.revisions.DeleteRevision(ctx, &runpb.DeleteRevisionRequest{Name: name})
	if err != nil {
		return fmt.Errorf("failed to delete revision %s: %w", revision, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for deletion of %s: %w", revision, err)
	}
	c.logger.Info().
		Str("service", ref.String()).
		Str("revision", revision).
		Msg("revision deleted")
	return nil
}

// Tag moves a label to the given revision without changing traffic
func (c *CloudRun) Tag(ctx context.Context, ref types.ServiceRef, revision, label string) error {
	svc, err := c.getService(ctx, ref)
	if err != nil {
		return err
	}

	svc.Traffic = pinnedTraffic(svc)
	found := false
	for _, t := range svc.Traffic {
		if shortName(t.Revision) == revision {
			t.Tag = label
			found = true
		} else if t.Tag == label {
			t.Tag = ""
		}
	}
	if !found {
		svc.Traffic = append(svc.Traffic, &runpb.TrafficTarget{
			Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
			Revision: revision,
			Percent:  0,
			Tag:      label,
		})
	}

	c.logger.Info().
		Str("service", ref.String()).
		Str("revision", revision).
		Str("label", label).
		Msg("tagging revision")

	op, err := c.services.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: svc})
	if err != nil {
		return fmt.Errorf("failed to tag revision %s: %w", revision, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for tag of %s: %w", revision, err)
	}
	return nil
}

// ServiceURL returns the service endpoint for health probes
func (c *CloudRun) ServiceURL(ctx context.Context, ref types.ServiceRef) (string, error) {
	svc, err := c.getService(ctx, ref)
	if err != nil {
		return "", err
	}
	if svc.Uri == "" {
		return "", fmt.Errorf("service %s has no URI yet", ref)
	}
	return svc.Uri, nil
}

func (c *CloudRun) getService(ctx context.Context, ref types.ServiceRef) (*runpb.Service, error) {
	svc, err := c.services.GetService(ctx, &runpb.GetServiceRequest{Name: ref.Name()})
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s: %w", ref, err)
	}
	return svc, nil
}

// pinnedTraffic converts the service's current traffic statuses into an
// explicit revision-pinned assignment, so subsequent updates cannot
// implicitly follow "latest"
func pinnedTraffic(svc *runpb.Service) []*runpb.TrafficTarget {
	var out []*runpb.TrafficTarget
	for _, t := range svc.TrafficStatuses {
		if t.Percent == 0 && t.Tag == "" {
			continue
		}
		out = append(out, &runpb.TrafficTarget{
			Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
			Revision: shortName(t.Revision),
			Percent:  t.Percent,
			Tag:      t.Tag,
		})
	}
	if len(out) == 0 {
		for _, t := range svc.Traffic {
			out = append(out, &runpb.TrafficTarget{
				Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
				Revision: shortName(t.Revision),
				Percent:  t.Percent,
				Tag:      t.Tag,
			})
		}
	}
	return out
}

func shortName(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[i+1:]
	}
	return full
}
