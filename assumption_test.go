package pvm

import (
	"context"
	"errors"
	"testing"
)

type stubExecution struct {
	Execution
	token string
	stale bool
}

func (s *stubExecution) TokenID() string { return s.token }
func (s *stubExecution) IsStale() bool   { return s.stale }

func TestWithAssumptionNestsAndRestores(t *testing.T) {
	outer := &stubExecution{token: "outer"}
	inner := &stubExecution{token: "inner"}
	ctx := context.Background()

	err := WithAssumption(ctx, outer, nil, func(ctx context.Context) error {
		first := CurrentAssumption(ctx)
		if first.Depth() != 1 || first.Execution() != outer {
			t.Fatalf("unexpected outer assumption depth=%d", first.Depth())
		}
		if err := WithAssumption(ctx, inner, nil, func(ctx context.Context) error {
			a := CurrentAssumption(ctx)
			if a.Depth() != 2 || a.Prior() != first {
				t.Fatalf("expected nested assumption linked to outer")
			}
			return nil
		}); err != nil {
			return err
		}
		if CurrentAssumption(ctx) != first {
			t.Fatalf("expected outer assumption restored")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if CurrentAssumption(ctx) != nil {
		t.Fatalf("expected no assumption outside the body")
	}
}

func TestWithAssumptionReturnsBodyError(t *testing.T) {
	want := errors.New("body failed")
	var captured *Assumption
	err := WithAssumption(context.Background(), &stubExecution{token: "a"}, nil, func(ctx context.Context) error {
		captured = CurrentAssumption(ctx)
		return want
	})
	if err != want {
		t.Fatalf("expected body error, got %v", err)
	}
	if captured.Active() {
		t.Fatalf("expected assumption released after error")
	}
}

func TestWithAssumptionReleasesOnPanic(t *testing.T) {
	var captured *Assumption
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = WithAssumption(context.Background(), &stubExecution{token: "a"}, nil, func(ctx context.Context) error {
			captured = CurrentAssumption(ctx)
			panic("boom")
		})
	}()
	if captured == nil || captured.Active() {
		t.Fatalf("expected released assumption after panic")
	}
	if captured.Assume(&stubExecution{token: "a"}) {
		t.Fatalf("released assumption must refuse candidates")
	}
}

func TestAssumptionAssume(t *testing.T) {
	held := &stubExecution{token: "t1"}
	fresh := &stubExecution{token: "t1"}
	stale := &stubExecution{token: "t1", stale: true}

	_ = WithAssumption(context.Background(), held, DefaultAssume, func(ctx context.Context) error {
		a := CurrentAssumption(ctx)
		if a.Assume(stale) {
			t.Fatalf("expected stale candidate refused")
		}
		if a.Execution() != held {
			t.Fatalf("refusal must leave the assumption untouched")
		}
		if !a.Assume(fresh) {
			t.Fatalf("expected fresh candidate adopted")
		}
		if a.Execution() != fresh {
			t.Fatalf("expected adopted candidate to become the assumed execution")
		}
		if a.Assume(nil) {
			t.Fatalf("nil candidate must be refused")
		}
		return nil
	})

	var seen [2]Guarded
	sameToken := func(assumed, candidate Guarded) bool {
		seen = [2]Guarded{assumed, candidate}
		return assumed.TokenID() == candidate.TokenID()
	}
	_ = WithAssumption(context.Background(), held, sameToken, func(ctx context.Context) error {
		a := CurrentAssumption(ctx)
		if a.Assume(&stubExecution{token: "other"}) {
			t.Fatalf("expected custom predicate to refuse other token")
		}
		if seen[0] != held {
			t.Fatalf("predicate should receive the held execution first")
		}
		return nil
	})
}

func TestNilAssumptionAccessors(t *testing.T) {
	var a *Assumption
	if a.Execution() != nil || a.Prior() != nil || a.Depth() != 0 || a.Active() {
		t.Fatalf("nil assumption accessors should be zero")
	}
	if CurrentAssumption(context.Background()) != nil {
		t.Fatalf("background context has no assumption")
	}
}
