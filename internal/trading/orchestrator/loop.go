// Package orchestrator runs the quoting and hedging loops.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"hedged_mm/internal/core"
	apperrors "hedged_mm/pkg/errors"
)

const (
	loopMaker = "maker"
	loopHedge = "hedge"
)

// ErrCatastrophic wraps a failure that escaped an iteration and ended a loop.
var ErrCatastrophic = errors.New("loop terminated")

type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// guard runs fn, converting a panic into an error that wraps ErrCatastrophic.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %w", ErrCatastrophic, &panicError{value: r, stack: debug.Stack()})
		}
	}()
	return fn()
}

// sleep blocks for d on clock. It returns false once ctx is done.
func sleep(ctx context.Context, clock core.Clock, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return ctx.Err() == nil
	}
}

// errorKind classifies err for logs and metrics.
func errorKind(err error) string {
	switch {
	case apperrors.IsConfiguration(err):
		return "configuration"
	case apperrors.IsMalformed(err):
		return "malformed"
	case apperrors.IsTransient(err):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

func isPanic(err error) bool {
	var pe *panicError
	return errors.As(err, &pe)
}

func panicStack(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return string(pe.stack)
	}
	return ""
}
