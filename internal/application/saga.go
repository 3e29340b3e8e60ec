package application

import (
	"context"
	"errors"
	"fmt"
)

// sagaStep pairs a forward write with the write that undoes it. compensate
// may be nil for steps that leave nothing to undo.
type sagaStep struct {
	name       string
	forward    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// SagaError reports the step that failed and any compensation that could not
// be completed. A non-empty Unrecovered means state is divergent.
type SagaError struct {
	Step        string
	Err         error
	Compensated []string
	Unrecovered map[string]error
}

func (e *SagaError) Error() string {
	if len(e.Unrecovered) > 0 {
		return fmt.Sprintf("step %s failed: %v (compensation failed for %d step(s))", e.Step, e.Err, len(e.Unrecovered))
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *SagaError) Unwrap() error { return e.Err }

// Divergent reports whether some completed step could not be undone
func (e *SagaError) Divergent() bool { return len(e.Unrecovered) > 0 }

// runSaga executes steps in order. When step k fails the compensations of
// steps 1..k-1 run in reverse order. Compensations ignore cancellation of ctx
// so an abandoned request still undoes what it wrote.
func runSaga(ctx context.Context, steps []sagaStep) error {
	for i, step := range steps {
		err := step.forward(ctx)
		if err == nil {
			continue
		}

		sagaErr := &SagaError{Step: step.name, Err: err}
		compCtx := context.WithoutCancel(ctx)
		for j := i - 1; j >= 0; j-- {
			done := steps[j]
			if done.compensate == nil {
				continue
			}
			if cerr := done.compensate(compCtx); cerr != nil {
				if sagaErr.Unrecovered == nil {
					sagaErr.Unrecovered = make(map[string]error)
				}
				sagaErr.Unrecovered[done.name] = cerr
				continue
			}
			sagaErr.Compensated = append(sagaErr.Compensated, done.name)
		}
		return sagaErr
	}
	return nil
}

// asSagaError unwraps a SagaError from err
func asSagaError(err error) (*SagaError, bool) {
	var sagaErr *SagaError
	ok := errors.As(err, &sagaErr)
	return sagaErr, ok
}
