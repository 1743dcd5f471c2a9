package probe

import (
	"context"
	"time"
)

// Result represents the outcome of a single reachability probe
type Result struct {
	OK        bool
	Latency   time.Duration
	Message   string
	CheckedAt time.Time
}

// Prober is the reachability check the health monitor depends on
type Prober interface {
	// Ping checks the endpoint once and reports whether it responded
	// successfully within the prober's timeout
	Ping(ctx context.Context, url string) Result
}
