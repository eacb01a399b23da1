package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mtiwari1/tradeflow/internal/credit"
	"github.com/mtiwari1/tradeflow/internal/identity"
	"github.com/mtiwari1/tradeflow/internal/worker"
)

// ErrQuotaUnavailable means the quota store could not seed a session's ledger.
var ErrQuotaUnavailable = errors.New("quota store unavailable")

const (
	recordTimeout = 5 * time.Second

	// recordLimit bounds concurrent Recorder calls.
	recordLimit = 8
)

// QuotaSource is the quota store collaborator, read once per session.
type QuotaSource interface {
	RemainingCredits(ctx context.Context, userID string) (int, error)
}

// Recorder persists terminal outcomes. Failures are logged and never
// change an item's state.
type Recorder interface {
	Record(ctx context.Context, owner string, item UploadItem) error
}

// Options configures a Registry.
type Options struct {
	Config    Config
	Overdraft credit.Overdraft
	Scheduler Scheduler
	Quotas    QuotaSource
	Recorder  Recorder
	Logger    *slog.Logger
}

// Registry keeps one Pipeline per user session and routes extraction
// results from the shared worker pool back to the owning pipeline.
type Registry struct {
	opts Options
	pool *worker.Pool

	mu        sync.Mutex
	pipelines map[string]*Pipeline

	records errgroup.Group

	startOnce sync.Once
	done      chan struct{}
}

// NewRegistry creates a registry on top of a started pool.
func NewRegistry(pool *worker.Pool, opts Options) (*Registry, error) {
	if err := opts.Config.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Quotas == nil {
		return nil, errors.New("pipeline: quota source is required")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = WallClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		opts:      opts,
		pool:      pool,
		pipelines: make(map[string]*Pipeline),
		done:      make(chan struct{}),
	}
	r.records.SetLimit(recordLimit)
	return r, nil
}

// Start launches the result dispatcher.
func (r *Registry) Start() {
	r.startOnce.Do(func() { go r.dispatch() })
}

// For returns the pipeline for the session in ctx, creating it and seeding
// its ledger from the quota store on first use.
func (r *Registry) For(ctx context.Context) (*Pipeline, error) {
	sess, ok := identity.FromContext(ctx)
	if !ok || !sess.Active(time.Now()) {
		return nil, identity.ErrNoSession
	}

	if p := r.lookup(sess.UserID); p != nil {
		return p, nil
	}

	remaining, err := r.opts.Quotas.RemainingCredits(ctx, sess.UserID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "load quota for %s", sess.UserID), ErrQuotaUnavailable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pipelines[sess.UserID]; ok {
		return p, nil
	}
	p := newPipeline(sess.UserID, r.opts.Config, r.opts.Scheduler, r.pool,
		credit.NewLedger(remaining, r.opts.Overdraft), r.opts.Logger)
	p.onTerminal = func(item UploadItem) { r.record(p.owner, item) }
	r.pipelines[sess.UserID] = p

	r.opts.Logger.Info("session pipeline created",
		slog.String("user_id", sess.UserID),
		slog.Int("credits", remaining),
	)
	return p, nil
}

// Release ends a user's session, tearing down all of its items.
func (r *Registry) Release(userID string) bool {
	r.mu.Lock()
	p, ok := r.pipelines[userID]
	delete(r.pipelines, userID)
	r.mu.Unlock()

	if ok {
		p.Close()
	}
	return ok
}

// Sessions returns the number of live session pipelines.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}

// Shutdown closes every pipeline, drains the pool and waits for the
// dispatcher and pending records to finish.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	pipelines := r.pipelines
	r.pipelines = make(map[string]*Pipeline)
	r.mu.Unlock()

	for _, p := range pipelines {
		p.Close()
	}
	r.pool.Shutdown()

	r.Start() // so done is closed even if Start was never called
	<-r.done
	r.records.Wait()
}

func (r *Registry) lookup(userID string) *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelines[userID]
}

// dispatch routes results until the pool closes its results channel.
func (r *Registry) dispatch() {
	defer close(r.done)

	for res := range r.pool.Results() {
		p := r.lookup(res.Owner)
		if p == nil {
			r.opts.Logger.Debug("result for released session dropped",
				slog.String("user_id", res.Owner),
				slog.String("item_id", res.ItemID),
			)
			continue
		}
		if item, ok := p.finish(res); ok {
			p.report(item)
		}
	}
}

// record persists a terminal outcome on a recorder goroutine, then deletes
// the spooled file. Items stay terminal whatever the recorder does.
func (r *Registry) record(owner string, item UploadItem) {
	r.records.Go(func() error {
		defer discard(r.opts.Logger, item.File)

		if r.opts.Recorder == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if err := r.opts.Recorder.Record(ctx, owner, item); err != nil {
			r.opts.Logger.Error("record outcome",
				slog.String("user_id", owner),
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}
