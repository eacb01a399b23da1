// Package pipeline tracks submitted files from intake to a terminal result.
//
// Each item moves through
//
//	queued -> uploading -> processing -> completed | failed
//
// independently of every other item. Progress advances on scheduled ticks,
// extraction runs once on the worker pool when processing reaches 100, and a
// credit is debited exactly when an item completes.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mtiwari1/tradeflow/internal/credit"
	"github.com/mtiwari1/tradeflow/internal/identity"
	"github.com/mtiwari1/tradeflow/internal/intake"
	"github.com/mtiwari1/tradeflow/internal/worker"
)

var (
	// ErrNotFound is returned by Cancel for unknown ids.
	ErrNotFound = errors.New("upload not found")

	// ErrClosed is returned once the pipeline's session has ended.
	ErrClosed = errors.New("pipeline closed")

	// ErrExtractionUnavailable fails items whose extraction could not be started.
	ErrExtractionUnavailable = errors.New("extraction service unavailable")
)

// SubscriberBuffer is the channel size handed out by Subscribe.
const SubscriberBuffer = 256

// submitter is the slice of *worker.Pool the pipeline needs.
type submitter interface {
	Submit(job worker.Job) bool
}

type entry struct {
	item       UploadItem
	ctx        context.Context
	cancel     context.CancelFunc
	timer      Timer
	extracting bool
}

// Pipeline owns the uploads of one user session.
type Pipeline struct {
	owner  string
	cfg    Config
	sched  Scheduler
	pool   submitter
	ledger *credit.Ledger
	logger *slog.Logger
	now    func() time.Time

	// onTerminal sees every item that reaches completed or failed, after
	// the transition is applied and outside the lock.
	onTerminal func(UploadItem)

	mu     sync.Mutex
	items  map[string]*entry
	order  []string
	subs   []chan Event
	closed bool
}

func newPipeline(owner string, cfg Config, sched Scheduler, pool submitter, ledger *credit.Ledger, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		owner:  owner,
		cfg:    cfg,
		sched:  sched,
		pool:   pool,
		ledger: ledger,
		logger: logger.With(slog.String("user_id", owner)),
		now:    time.Now,
		items:  make(map[string]*entry),
	}
}

// Owner returns the user this pipeline belongs to.
func (p *Pipeline) Owner() string { return p.owner }

// Credits returns the local credit balance.
func (p *Pipeline) Credits() int { return p.ledger.Balance() }

// Submit admits every acceptable file and starts its upload phase. Files
// that fail the accept policy, or that the balance cannot cover under the
// refuse overdraft policy, are returned as rejections and never become
// items. ctx must carry the owner's active session.
func (p *Pipeline) Submit(ctx context.Context, files []intake.FileRef) ([]string, []Rejection, error) {
	sess, ok := identity.FromContext(ctx)
	if !ok || !sess.Active(p.now()) || sess.UserID != p.owner {
		return nil, nil, errors.Wrap(identity.ErrNoSession, "submit")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrClosed
	}

	available := p.ledger.Available(p.inFlightLocked())
	accepted := make([]string, 0, len(files))
	var rejected []Rejection
	for _, f := range files {
		if err := p.cfg.Accept.Check(f); err != nil {
			rejected = append(rejected, reject(f, err))
			continue
		}
		if available == 0 {
			rejected = append(rejected, reject(f, errors.Wrapf(credit.ErrInsufficient, "%s", f.Name)))
			continue
		}
		if available > 0 {
			available--
		}
		accepted = append(accepted, p.admitLocked(f))
	}

	p.logger.Info("files submitted",
		slog.Int("accepted", len(accepted)),
		slog.Int("rejected", len(rejected)),
	)
	return accepted, rejected, nil
}

func (p *Pipeline) admitLocked(f intake.FileRef) string {
	now := p.now()
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		item: UploadItem{
			ID:        uuid.New().String(),
			File:      f,
			State:     StateQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	p.items[e.item.ID] = e
	p.order = append(p.order, e.item.ID)

	// Queued has no dwell time: intake is accepted, upload starts.
	p.enterPhaseLocked(e, StateUploading)
	return e.item.ID
}

// enterPhaseLocked moves e into uploading or processing with progress 0
// and schedules its first tick.
func (p *Pipeline) enterPhaseLocked(e *entry, s State) {
	e.item.State = s
	e.item.Progress = 0
	e.item.UpdatedAt = p.now()
	p.publishLocked(EventUpdated, e)
	p.logger.Info("upload phase started",
		slog.String("item_id", e.item.ID),
		slog.String("state", string(s)),
	)
	p.scheduleLocked(e)
}

func (p *Pipeline) scheduleLocked(e *entry) {
	_, interval := p.cfg.Policy.step(e.item.State)
	e.timer = p.sched.AfterFunc(interval, func() { p.tick(e) })
}

// tick applies one progress step. Each tick schedules the next, so ticks
// for the same item never overlap.
func (p *Pipeline) tick(e *entry) {
	p.mu.Lock()
	if p.items[e.item.ID] != e || e.timer == nil {
		// Cancelled, or a stale wall-clock timer that lost the race with Stop.
		p.mu.Unlock()
		return
	}
	e.timer = nil

	step, _ := p.cfg.Policy.step(e.item.State)
	e.item.Progress = advance(e.item.Progress, step)
	e.item.UpdatedAt = p.now()
	p.publishLocked(EventUpdated, e)

	if e.item.Progress < 100 {
		p.scheduleLocked(e)
		p.mu.Unlock()
		return
	}

	if e.item.State == StateUploading {
		p.enterPhaseLocked(e, StateProcessing)
		p.mu.Unlock()
		return
	}

	// Processing reached 100: hand the file to the extraction service, once.
	e.extracting = true
	job := worker.Job{Ctx: e.ctx, Owner: p.owner, ItemID: e.item.ID, File: e.item.File}
	p.mu.Unlock()

	if !p.pool.Submit(job) {
		if item, ok := p.finish(worker.Result{Owner: p.owner, ItemID: job.ItemID, Err: ErrExtractionUnavailable}); ok {
			p.report(item)
		}
	}
}

func (p *Pipeline) report(item UploadItem) {
	if p.onTerminal != nil {
		p.onTerminal(item)
	}
}

// finish applies the extraction outcome. It reports false, and changes
// nothing, when the item is gone or not awaiting an outcome.
func (p *Pipeline) finish(res worker.Result) (UploadItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[res.ItemID]
	if !ok || e.item.State != StateProcessing || !e.extracting {
		return UploadItem{}, false
	}
	e.extracting = false
	e.item.UpdatedAt = p.now()

	if res.Err != nil {
		e.item.State = StateFailed
		e.item.Error = res.Err.Error()
		p.logger.Warn("upload failed",
			slog.String("item_id", e.item.ID),
			slog.String("error", e.item.Error),
		)
	} else {
		order := res.Order
		e.item.State = StateCompleted
		e.item.Result = &order
		balance := p.ledger.Debit(1)
		p.logger.Info("upload completed",
			slog.String("item_id", e.item.ID),
			slog.String("po_number", order.PONumber),
			slog.Int("credits_left", balance),
		)
	}
	e.cancel()
	p.publishLocked(EventUpdated, e)
	return e.item, true
}

// Cancel removes an item and tears down its timer and any in-flight
// extraction. A completed item's debit is not refunded. The spooled file of
// an unfinished item is deleted here; a finished item's file is deleted once
// its outcome is recorded.
func (p *Pipeline) Cancel(id string) error {
	p.mu.Lock()
	e, ok := p.items[id]
	if !ok {
		p.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "upload %s", id)
	}
	p.removeLocked(e)
	item := e.item
	p.mu.Unlock()

	p.logger.Info("upload cancelled",
		slog.String("item_id", id),
		slog.String("state", string(item.State)),
	)
	if !item.State.Terminal() {
		discard(p.logger, item.File)
	}
	return nil
}

func (p *Pipeline) removeLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.cancel()
	delete(p.items, e.item.ID)
	if i := slices.Index(p.order, e.item.ID); i >= 0 {
		p.order = slices.Delete(p.order, i, i+1)
	}
	p.publishLocked(EventRemoved, e)
}

// Snapshot returns copies of all items in submission order.
func (p *Pipeline) Snapshot() []UploadItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]UploadItem, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.items[id].item)
	}
	return out
}

// Get returns a copy of one item.
func (p *Pipeline) Get(id string) (UploadItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.items[id]
	if !ok {
		return UploadItem{}, errors.Wrapf(ErrNotFound, "upload %s", id)
	}
	return e.item, nil
}

// InFlight returns the number of items not yet in a terminal state.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlightLocked()
}

func (p *Pipeline) inFlightLocked() int {
	n := 0
	for _, e := range p.items {
		if !e.item.State.Terminal() {
			n++
		}
	}
	return n
}

// Subscribe returns a channel receiving every applied change, and a
// function to stop the subscription. Slow subscribers miss events rather
// than stall the pipeline. The channel is closed when the pipeline closes.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Event, SubscriberBuffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	p.subs = append(p.subs, ch)
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if i := slices.Index(p.subs, ch); i >= 0 {
			p.subs = slices.Delete(p.subs, i, i+1)
			close(ch)
		}
	}
}

// publishLocked sends a copy of e's item to all subscribers without blocking.
func (p *Pipeline) publishLocked(t EventType, e *entry) {
	ev := Event{Type: t, Item: e.item}
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the session: every item is torn down and subscriptions close.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var unfinished []intake.FileRef
	for _, id := range slices.Clone(p.order) {
		e := p.items[id]
		if !e.item.State.Terminal() {
			unfinished = append(unfinished, e.item.File)
		}
		p.removeLocked(e)
	}
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
	p.mu.Unlock()

	for _, f := range unfinished {
		discard(p.logger, f)
	}
}
