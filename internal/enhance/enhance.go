// Package enhance asks an external resolution service to improve calls the
// static passes could not qualify. Enhancement is best-effort: a timeout or
// failure leaves the call exactly as the static passes produced it.
package enhance

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

// Status is the lifecycle of one enhancement request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRequested Status = "requested"
	StatusEnhanced  Status = "enhanced"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
)

// Request identifies one call site for the service.
type Request struct {
	Crate      string `json:"crate"`
	CallerQN   string `json:"caller"`
	CalleeName string `json:"callee"`
	FilePath   string `json:"file"`
	Line       int    `json:"line"`
}

// Result is a service answer. An empty qualified callee means the service
// had nothing better than the static pass.
type Result struct {
	QualifiedCallee string  `json:"qualified_callee"`
	ToCrate         string  `json:"to_crate"`
	Confidence      float64 `json:"confidence"`
}

// Service resolves one call site. Implementations must honor ctx
// cancellation; the orchestrator applies the per-request timeout.
type Service interface {
	Enhance(ctx context.Context, req Request) (Result, error)
}

// ErrUnavailable is returned by a service that cannot answer at all, as
// opposed to answering with no improvement.
var ErrUnavailable = errors.New("enhancement service unavailable")

// Options tune the orchestrator. Zero values take the defaults.
type Options struct {
	Timeout     time.Duration // per request
	CacheTTL    time.Duration
	Concurrency int
	// MaxRequests caps service requests per run so a workspace full of
	// unresolved calls cannot stretch indexing latency unboundedly.
	MaxRequests int
	// MinConfidence rejects answers the service itself is unsure about.
	MinConfidence float64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 10 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU()
	}
	if o.MaxRequests <= 0 {
		o.MaxRequests = 500
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 0.5
	}
	return o
}

// Stats summarizes one enhancement run.
type Stats struct {
	Candidates int
	Enhanced   int
	TimedOut   int
	Failed     int
	Cached     int
	Skipped    int // candidates beyond the per-run request cap
	Rejected   int // answers below the confidence threshold
}

// Orchestrator drives enhancement requests with a concurrency cap, a
// per-request timeout, and a TTL answer cache.
type Orchestrator struct {
	svc   Service
	cache *ttlCache
	opts  Options
	log   *slog.Logger
}

// New builds an orchestrator. A nil service disables enhancement entirely.
func New(svc Service, opts Options, log *slog.Logger) *Orchestrator {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		svc:   svc,
		cache: newTTLCache(opts.CacheTTL),
		opts:  opts,
		log:   log,
	}
}

// Unit enhances every unresolved, non-synthetic call in the unit. Calls the
// service cannot improve keep their static result unchanged.
func (o *Orchestrator) Unit(ctx context.Context, unit *symbols.UnitSymbols) Stats {
	var stats Stats
	if o == nil || o.svc == nil {
		return stats
	}

	var candidates []int
	for i := range unit.Calls {
		c := &unit.Calls[i]
		if c.QualifiedCallee == "" && !c.IsSynthetic && c.Kind != symbols.CallMacro {
			candidates = append(candidates, i)
		}
	}
	stats.Candidates = len(candidates)
	if len(candidates) == 0 {
		return stats
	}
	if len(candidates) > o.opts.MaxRequests {
		stats.Skipped = len(candidates) - o.opts.MaxRequests
		candidates = candidates[:o.opts.MaxRequests]
	}

	type outcome struct {
		status Status
		result Result
		cached bool
	}
	outcomes := make([]outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for slot, idx := range candidates {
		c := unit.Calls[idx]
		g.Go(func() error {
			req := Request{
				Crate:      c.FromCrate,
				CallerQN:   c.CallerQN,
				CalleeName: c.CalleeName,
				FilePath:   c.FilePath,
				Line:       c.Line,
			}
			if cached, ok := o.cache.get(cacheKey(req)); ok {
				outcomes[slot] = outcome{status: StatusEnhanced, result: cached, cached: true}
				return nil
			}

			reqCtx, cancel := context.WithTimeout(gctx, o.opts.Timeout)
			defer cancel()
			res, err := o.svc.Enhance(reqCtx, req)
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				outcomes[slot] = outcome{status: StatusTimedOut}
			case err != nil:
				outcomes[slot] = outcome{status: StatusFailed}
			default:
				outcomes[slot] = outcome{status: StatusEnhanced, result: res}
				if res.QualifiedCallee != "" && res.Confidence >= o.opts.MinConfidence {
					o.cache.put(cacheKey(req), res)
				}
			}
			return nil
		})
	}
	// Workers never return errors; timeouts and failures are outcomes.
	_ = g.Wait()

	for slot, idx := range candidates {
		out := outcomes[slot]
		if out.cached {
			stats.Cached++
		}
		switch out.status {
		case StatusEnhanced:
			if out.result.QualifiedCallee == "" {
				continue
			}
			if out.result.Confidence < o.opts.MinConfidence {
				stats.Rejected++
				continue
			}
			c := &unit.Calls[idx]
			c.QualifiedCallee = out.result.QualifiedCallee
			if out.result.ToCrate != "" {
				c.ToCrate = out.result.ToCrate
				c.CrossCrate = c.ToCrate != c.FromCrate
			}
			if out.result.Confidence > 0 {
				c.Confidence = out.result.Confidence
			}
			stats.Enhanced++
		case StatusTimedOut:
			stats.TimedOut++
		case StatusFailed:
			stats.Failed++
		}
	}

	o.log.Debug("enhance.unit",
		"crate", unit.Crate,
		"candidates", stats.Candidates,
		"enhanced", stats.Enhanced,
		"timed_out", stats.TimedOut,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"rejected", stats.Rejected)
	return stats
}

func cacheKey(req Request) string {
	return req.Crate + "|" + req.CalleeName + "|" + req.FilePath
}
