package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pvm"
)

func TestHandler_NoError_NoRetries(t *testing.T) {
	h := NewHandler()

	cf := countingFunc{failUntil: 0}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 1 {
		t.Errorf("expected calls=1, got %d", cf.calls)
	}
	if runs, ok := h.Stats(); runs != 1 || ok != 1 {
		t.Errorf("expected 1 run and 1 success, got %d/%d", runs, ok)
	}
}

func TestHandler_SuccessOnSecondAttempt(t *testing.T) {
	h := NewHandler(WithMaxRetries(3))

	cf := countingFunc{failUntil: 1}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 2 {
		t.Errorf("expected calls=2, got %d", cf.calls)
	}
	if _, ok := h.Stats(); ok != 1 {
		t.Errorf("expected successfulRuns=1, got %d", ok)
	}
}

func TestHandler_AllAttemptsFail(t *testing.T) {
	var seen []error
	h := NewHandler(WithMaxRetries(2), WithErrorHandler(func(err error) { seen = append(seen, err) }))

	cf := countingFunc{failUntil: 5}
	err := h.Run(context.Background(), cf.fn)

	if cf.calls != 3 {
		t.Errorf("expected calls=3 (1 initial + 2 retries), got %d", cf.calls)
	}
	if len(seen) != 3 {
		t.Errorf("expected error handler per attempt, got %d", len(seen))
	}
	if !pvm.HasErrorCode(err, "PVM_RUN_FAILED") {
		t.Fatalf("expected run failed error, got %v", err)
	}
	var ge *apperrors.Error
	errors.As(err, &ge)
	if ge.Metadata["attempts"] != 3 {
		t.Errorf("expected attempts metadata, got %v", ge.Metadata)
	}
	if ge.Source == nil || ge.Source.Error() != "forced error attempt 3" {
		t.Errorf("expected last error as source, got %v", ge.Source)
	}
}

func TestHandler_PermanentErrorsStopRetrying(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(5),
		WithRetryStrategy(PermanentErrors{Strategy: NoDelayStrategy{}}),
	)

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return pvm.CloneError(pvm.ErrVersionConflict, "", nil, nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected version conflict to stop retries, got %d calls", calls)
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := NewHandler(
		WithTimeout(50*time.Millisecond),
		WithMaxRetries(0),
	)

	start := time.Now()
	err := h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Error("expected function to time out quickly, but took too long")
	}
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestHandler_Deadline(t *testing.T) {
	h := NewHandler(WithDeadline(time.Now().Add(50 * time.Millisecond)))

	start := time.Now()
	_ = h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	if elapsed := time.Since(start); elapsed >= 500*time.Millisecond {
		t.Error("expected function to stop at deadline, but took too long")
	}
	if _, ok := h.Stats(); ok != 0 {
		t.Errorf("expected 0 successful runs, got %d", ok)
	}
}

func TestHandler_BackoffHonoursContext(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(3),
		WithRetryStrategy(ExponentialBackoffStrategy{Base: time.Second, Factor: 2}),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := h.Run(ctx, func(context.Context) error { return errors.New("down") })
	var ge *apperrors.Error
	if !errors.As(err, &ge) || ge.Source != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded as source, got %v", err)
	}
	if time.Since(start) >= time.Second {
		t.Fatal("expected backoff to stop when context ended")
	}
}

func TestHandler_Concurrency(t *testing.T) {
	h := NewHandler(WithMaxRetries(1))
	wg := sync.WaitGroup{}
	const goroutines = 10

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cf := &countingFunc{failUntil: 1}
			_ = h.Run(context.Background(), cf.fn)
		}()
	}
	wg.Wait()

	runs, ok := h.Stats()
	if runs != goroutines || ok != goroutines {
		t.Errorf("expected %d runs and successes, got %d/%d", goroutines, runs, ok)
	}
}

func TestHandler_Logger(t *testing.T) {
	ml := &mockLogger{}
	h := NewHandler(
		WithLogger(ml),
		WithMaxRetries(1),
	)

	cf := countingFunc{failUntil: 2}
	_ = h.Run(context.Background(), cf.fn)

	if len(ml.errorMessages) != 2 {
		t.Errorf("expected an error log per attempt, got %d", len(ml.errorMessages))
	}
}

type mockLogger struct {
	pvm.NopLogger
	errorMessages []string
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.errorMessages = append(m.errorMessages, fmt.Sprintf(msg, args...))
}

func (m *mockLogger) WithContext(context.Context) pvm.Logger { return m }

type countingFunc struct {
	calls     int
	failUntil int // fail this many times, then succeed
}

func (cf *countingFunc) fn(_ context.Context) error {
	cf.calls++
	if cf.calls <= cf.failUntil {
		return fmt.Errorf("forced error attempt %d", cf.calls)
	}
	return nil
}
