package pipeline

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

// Policy controls how progress advances in each phase.
type Policy struct {
	UploadStep         int
	UploadInterval     time.Duration
	ProcessingStep     int
	ProcessingInterval time.Duration
}

// DefaultPolicy is +10 every 200ms while uploading and +15 every 500ms
// while processing.
func DefaultPolicy() Policy {
	return Policy{
		UploadStep:         10,
		UploadInterval:     200 * time.Millisecond,
		ProcessingStep:     15,
		ProcessingInterval: 500 * time.Millisecond,
	}
}

// Validate rejects steps outside 1..100 and non-positive intervals.
func (p Policy) Validate() error {
	if p.UploadStep < 1 || p.UploadStep > 100 || p.ProcessingStep < 1 || p.ProcessingStep > 100 {
		return errors.Newf("pipeline: steps must be within 1..100, got %d and %d", p.UploadStep, p.ProcessingStep)
	}
	if p.UploadInterval <= 0 || p.ProcessingInterval <= 0 {
		return errors.New("pipeline: tick intervals must be positive")
	}
	return nil
}

func (p Policy) step(s State) (int, time.Duration) {
	if s == StateProcessing {
		return p.ProcessingStep, p.ProcessingInterval
	}
	return p.UploadStep, p.UploadInterval
}

// Ticks returns how many ticks a phase takes to reach 100.
func (p Policy) Ticks(s State) int {
	step, _ := p.step(s)
	return (100 + step - 1) / step
}

// advance adds step to progress, clamping at exactly 100.
func advance(progress, step int) int {
	progress += step
	if progress > 100 {
		return 100
	}
	return progress
}

// Config is the per-pipeline configuration.
type Config struct {
	Policy Policy
	Accept intake.AcceptPolicy
}

// DefaultConfig returns the product defaults.
func DefaultConfig() Config {
	return Config{Policy: DefaultPolicy(), Accept: intake.DefaultAcceptPolicy()}
}
