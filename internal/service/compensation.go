package service

import (
	"context"
	"time"
)

const compensationTimeout = 5 * time.Second

type compensationStep struct {
	name string
	undo func(ctx context.Context) error
}

// compensationLog records undo steps for writes that happened outside the
// store transaction. Steps are replayed newest first.
type compensationLog struct {
	steps []compensationStep
}

func (l *compensationLog) add(name string, undo func(ctx context.Context) error) {
	l.steps = append(l.steps, compensationStep{name: name, undo: undo})
}

// rollback runs every recorded step in reverse order. It keeps going when
// a step fails and returns the first failure. The request context may
// already be cancelled, so the steps run on a detached one.
func (l *compensationLog) rollback(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var first error
	for i := len(l.steps) - 1; i >= 0; i-- {
		step := l.steps[i]
		if err := step.undo(ctx); err != nil {
			logger.Error().Err(err).Str("step", step.name).Msg("Compensation step failed")
			if first == nil {
				first = err
			}
			continue
		}
		logger.Info().Str("step", step.name).Msg("Compensation step applied")
	}
	l.steps = nil
	return first
}
