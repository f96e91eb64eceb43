package drl

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/italia/drl-sync/internal/store"
	"github.com/italia/drl-sync/pkg/progress"
	"github.com/italia/drl-sync/pkg/remote"
	"github.com/italia/drl-sync/pkg/runner"
	"github.com/italia/drl-sync/pkg/syncengine"
)

// Options configures a Provider, mirrored on the teacher's Config/DefaultConfig
// pairing (pkg/content/types.go) rather than a bag of positional constructor
// arguments.
type Options struct {
	// BasePath is the root directory the local mirror file is kept under.
	// The mirror itself lives at BasePath/store.DefaultRelativePath.
	BasePath string

	// UpstreamURL is the origin of the upstream DRL service.
	UpstreamURL string

	// HTTPClient overrides the Remote Client's transport. Nil uses a default.
	HTTPClient *http.Client

	// RefreshInterval is the normal staleness window: once LastCheck is
	// older than this, Check triggers a refresh (SPEC_FULL.md §4.5 step 3).
	RefreshInterval time.Duration

	// MinRefreshInterval floors how often a refresh attempt may be made,
	// regardless of staleness (step 3).
	MinRefreshInterval time.Duration

	// MaxFileAge is the hard staleness bound: once exceeded, Check blocks
	// on a refresh before answering (step 2).
	MaxFileAge time.Duration

	// UseAvailableValuesWhileRefreshing controls what Check does when
	// RefreshInterval has expired but MaxFileAge has not: true answers from
	// whatever is currently stored while a refresh runs in the background;
	// false blocks the caller until that refresh completes (step 3).
	UseAvailableValuesWhileRefreshing bool

	// Logger receives diagnostic lines from the Sync Engine. Nil is a no-op.
	Logger syncengine.Logger
}

// DefaultOptions returns sensible defaults with BasePath and UpstreamURL left
// for the caller to fill in, matching the teacher's DefaultConfig pattern of
// a mostly-populated struct literal.
func DefaultOptions() Options {
	return Options{
		RefreshInterval:                   24 * time.Hour,
		MinRefreshInterval:                5 * time.Minute,
		MaxFileAge:                        15 * 24 * time.Hour,
		UseAvailableValuesWhileRefreshing: true,
	}
}

// Provider is the public facade described in SPEC_FULL.md §4.5: it owns the
// Local Store, Remote Client, Sync Engine and Single-Flight Runner, and
// answers membership queries gated by a freshness policy.
type Provider struct {
	mu                 sync.RWMutex
	lastRefreshAttempt time.Time

	refreshInterval         time.Duration
	minRefreshInterval      time.Duration
	maxFileAge              time.Duration
	useStaleWhileRefreshing bool

	store    *store.Store
	runner   *runner.Runner
	progress *progress.Emitter
}

// NewProvider wires up a Provider from opts: opens the Local Store at
// opts.BasePath, builds the Remote Client against opts.UpstreamURL, and
// assembles the Sync Engine and Single-Flight Runner over them.
func NewProvider(opts Options) (*Provider, error) {
	path := filepath.Join(opts.BasePath, store.DefaultRelativePath)
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	client := remote.NewHTTPClient(opts.UpstreamURL, opts.HTTPClient)
	emitter := progress.NewEmitter(func(format string, args ...interface{}) {
		if opts.Logger != nil {
			opts.Logger(format, args...)
		}
	})
	engine := syncengine.New(client, s, emitter, opts.Logger)

	return &Provider{
		refreshInterval:         opts.RefreshInterval,
		minRefreshInterval:      opts.MinRefreshInterval,
		maxFileAge:              opts.MaxFileAge,
		useStaleWhileRefreshing: opts.UseAvailableValuesWhileRefreshing,
		store:                   s,
		runner:                  runner.New(engine),
		progress:                emitter,
	}, nil
}

// Close releases the Local Store's underlying file.
func (p *Provider) Close() error {
	return p.store.Close()
}

// SupportedCountries returns the set of country codes this Provider serves
// revocation data for. The DRL covers Italy only: exactly one upstream DRL
// source exists per instance (spec.md §1 Non-goals).
func (p *Provider) SupportedCountries() []string {
	return []string{"IT"}
}

// Subscribe registers sub to receive DownloadProgress events for every
// refresh this Provider runs, returning an unsubscribe function.
func (p *Provider) Subscribe(sub progress.Subscriber) func() {
	return p.progress.Subscribe(sub)
}

// Refresh unconditionally triggers a sync, coalescing with any already in
// flight, and records the attempt time for the freshness gate. It ignores
// every timer in Options — callers that want the freshness policy applied
// should use Check instead.
func (p *Provider) Refresh(ctx context.Context) (SyncStatus, error) {
	p.markRefreshAttempted()
	return p.runner.Trigger(ctx)
}

func (p *Provider) markRefreshAttempted() {
	p.mu.Lock()
	p.lastRefreshAttempt = time.Now()
	p.mu.Unlock()
}

func (p *Provider) minIntervalElapsed() bool {
	if p.minRefreshInterval <= 0 {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.lastRefreshAttempt) >= p.minRefreshInterval
}

// triggerBackground starts a refresh detached from ctx's lifetime so a
// caller that isn't waiting on it (UseAvailableValuesWhileRefreshing) can't
// have it cancelled by its own context expiring.
func (p *Provider) triggerBackground() {
	p.markRefreshAttempted()
	go func() {
		_, _ = p.runner.Trigger(context.Background())
	}()
}

// Check reports whether ucvi is present on the revocation list, applying the
// freshness policy of SPEC_FULL.md §4.5 (spec.md §4.5 steps 1-4) before
// answering from the Local Store:
//
//  1. Load the current SyncStatus.
//  2. If LastCheck is older than MaxFileAge, block on a refresh first.
//  3. Else if LastCheck is older than RefreshInterval, or a download is
//     still pending, and MinRefreshInterval has elapsed since the last
//     attempt: trigger a refresh, awaiting it unless
//     UseAvailableValuesWhileRefreshing lets the call proceed against
//     whatever is currently stored.
//  4. Answer from the Local Store against the hashed UCVI.
func (p *Provider) Check(ctx context.Context, ucvi string) (bool, error) {
	status, err := p.store.LoadOrInitStatus()
	if err != nil {
		return false, err
	}

	now := time.Now()

	if p.maxFileAge > 0 && now.After(status.LastCheck.Add(p.maxFileAge)) {
		// The mirror is stale beyond every tolerance: the refresh must
		// succeed before answering, so every error surfaces, per spec.md §7.
		if _, err := p.Refresh(ctx); err != nil {
			return false, err
		}
	} else if status.HasPendingDownload() || (p.refreshInterval > 0 && now.After(status.LastCheck.Add(p.refreshInterval))) {
		if p.minIntervalElapsed() {
			if p.useStaleWhileRefreshing {
				p.triggerBackground()
			} else {
				// Still within max_file_age: fall back to whatever is
				// currently stored on a refresh failure rather than
				// surfacing it, per spec.md §7.
				_, _ = p.Refresh(ctx)
			}
		}
	}

	return p.store.ContainsHashedUCVI(HashUCVI(ucvi))
}

// Status returns the current SyncStatus without triggering a refresh.
func (p *Provider) Status() (SyncStatus, error) {
	return p.store.LoadOrInitStatus()
}
