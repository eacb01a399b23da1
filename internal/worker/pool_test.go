package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/tradeflow/internal/extract"
	"github.com/mtiwari1/tradeflow/internal/intake"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, p *Pool) Result {
	t.Helper()
	select {
	case res := <-p.Results():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestPoolProcessesJobs(t *testing.T) {
	ext := extract.Func(func(ctx context.Context, f intake.FileRef) (extract.PurchaseOrder, error) {
		if f.Name == "bad.txt" {
			return extract.PurchaseOrder{}, extract.ErrUnreadable
		}
		return extract.PurchaseOrder{PONumber: "PO-" + f.Name}, nil
	})

	p := NewPool(2, ext, testLogger())
	p.Start()
	defer p.Shutdown()

	require.True(t, p.Submit(Job{Ctx: context.Background(), Owner: "u1", ItemID: "a", File: intake.FileRef{Name: "good.txt"}}))
	require.True(t, p.Submit(Job{Ctx: context.Background(), Owner: "u1", ItemID: "b", File: intake.FileRef{Name: "bad.txt"}}))

	got := map[string]Result{}
	for i := 0; i < 2; i++ {
		res := receive(t, p)
		got[res.ItemID] = res
	}

	require.NoError(t, got["a"].Err)
	assert.Equal(t, "PO-good.txt", got["a"].Order.PONumber)
	assert.Equal(t, "u1", got["a"].Owner)
	assert.True(t, errors.Is(got["b"].Err, extract.ErrUnreadable))
}

func TestPoolCancelledJob(t *testing.T) {
	ext := extract.Func(func(ctx context.Context, f intake.FileRef) (extract.PurchaseOrder, error) {
		<-ctx.Done()
		return extract.PurchaseOrder{}, ctx.Err()
	})

	p := NewPool(1, ext, testLogger())
	p.Start()
	defer p.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, p.Submit(Job{Ctx: ctx, ItemID: "slow"}))
	cancel()

	res := receive(t, p)
	assert.Equal(t, "slow", res.ItemID)
	assert.True(t, errors.Is(res.Err, context.Canceled))
}

func TestPoolShutdown(t *testing.T) {
	started := make(chan struct{})
	ext := extract.Func(func(ctx context.Context, f intake.FileRef) (extract.PurchaseOrder, error) {
		close(started)
		<-ctx.Done()
		return extract.PurchaseOrder{}, ctx.Err()
	})

	p := NewPool(1, ext, testLogger())
	p.Start()
	require.True(t, p.Submit(Job{Ctx: context.Background(), ItemID: "x"}))
	<-started

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not cancel the in-flight extraction")
	}

	assert.False(t, p.Submit(Job{Ctx: context.Background(), ItemID: "late"}))
	p.Shutdown()

	// Results channel is closed after draining.
	for range p.Results() {
	}
}
