// Package utils provides small helpers shared across packages.
package utils

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// slowStage is the duration above which a stage is logged at warn level
const slowStage = 30 * time.Second

// StageTimer measures the named stages of a multi-step operation
//
// Usage:
//
//	timer := utils.NewStageTimer(log)
//	done := timer.Start("train")
//	...
//	done()
type StageTimer struct {
	mu     sync.Mutex
	log    zerolog.Logger
	order  []string
	stages map[string]time.Duration
}

// NewStageTimer creates an empty stage timer
func NewStageTimer(log zerolog.Logger) *StageTimer {
	return &StageTimer{
		log:    log,
		stages: make(map[string]time.Duration),
	}
}

// Start begins timing stage and returns the function that ends it.
// Timing the same stage twice accumulates.
func (t *StageTimer) Start(stage string) func() time.Duration {
	start := time.Now()

	return func() time.Duration {
		duration := time.Since(start)

		t.mu.Lock()
		if _, seen := t.stages[stage]; !seen {
			t.order = append(t.order, stage)
		}
		t.stages[stage] += duration
		t.mu.Unlock()

		t.log.Debug().
			Str("stage", stage).
			Dur("duration_ms", duration).
			Msg("Stage completed")

		if duration > slowStage {
			t.log.Warn().
				Str("stage", stage).
				Dur("duration", duration).
				Msg("Slow stage detected")
		}

		return duration
	}
}

// Durations returns a copy of the recorded stage durations
func (t *StageTimer) Durations() map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]time.Duration, len(t.stages))
	for k, v := range t.stages {
		out[k] = v
	}
	return out
}

// Total returns the sum of all stage durations
func (t *StageTimer) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total time.Duration
	for _, d := range t.stages {
		total += d
	}
	return total
}

// LogSummary logs every stage in the order it first completed
func (t *StageTimer) LogSummary(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := t.log.Info()
	var total time.Duration
	for _, stage := range t.order {
		event = event.Dur(stage, t.stages[stage])
		total += t.stages[stage]
	}
	event.Dur("total", total).Msg(msg)
}
