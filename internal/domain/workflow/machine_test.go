package workflow

import (
	"context"
	"errors"
	"testing"
)

const (
	testDraft     State = "draft"
	testSubmitted State = "submitted"
	testReview    State = "review"
	testClosed    State = "closed"

	testSubmit Trigger = "submit"
	testClose  Trigger = "close"
)

var testStates = NewStateSet([]State{testDraft, testSubmitted, testReview}, testClosed)

func TestStateSet(t *testing.T) {
	tests := []struct {
		name         string
		state        State
		wantValid    bool
		wantTerminal bool
	}{
		{"initial", testDraft, true, false},
		{"terminal", testClosed, true, true},
		{"unknown", State("bogus"), false, false},
		{"empty", State(""), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testStates.IsValid(tt.state); got != tt.wantValid {
				t.Errorf("IsValid() = %v, want %v", got, tt.wantValid)
			}
			if got := testStates.IsTerminal(tt.state); got != tt.wantTerminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.wantTerminal)
			}
		})
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder(testStates)

	config := builder.Configure(testDraft)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	if config2 := builder.Configure(testDraft); config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_ConfigurePanics(t *testing.T) {
	for _, state := range []State{"bogus", testClosed} {
		t.Run(string(state), func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Configure(%s) should panic", state)
				}
			}()
			NewBuilder(testStates).Configure(state)
		})
	}
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	NewBuilder(testStates).Build(State("bogus"))
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder(testStates)
	builder.Configure(testDraft).Permit(testSubmit, testSubmitted)

	machine := builder.Build(testDraft)

	if !machine.CanFire(testSubmit) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	tr, err := machine.Fire(context.Background(), testSubmit)
	if err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if tr.From != testDraft || tr.To != testSubmitted || tr.Trigger != testSubmit {
		t.Errorf("Fire() transition = %+v", tr)
	}
	if machine.State() != testSubmitted {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), testSubmitted)
	}
}

func TestStateMachine_FireUnconfigured(t *testing.T) {
	builder := NewBuilder(testStates)
	builder.Configure(testDraft).Permit(testSubmit, testSubmitted)

	machine := builder.Build(testSubmitted)

	_, err := machine.Fire(context.Background(), testSubmit)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}

	machine = builder.Build(testDraft)
	if _, err := machine.Fire(context.Background(), testClose); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	reason := errors.New("documents missing")
	builder := NewBuilder(testStates)
	builder.Configure(testDraft).
		PermitIf(testSubmit, testSubmitted, func(ctx context.Context) error {
			return reason
		})

	machine := builder.Build(testDraft)

	_, err := machine.Fire(context.Background(), testSubmit)
	if err == nil {
		t.Fatal("Fire() should fail when guard fails")
	}
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if !errors.Is(err, reason) {
		t.Errorf("Fire() error = %v, should wrap guard reason", err)
	}
	if machine.State() != testDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", testDraft, machine.State())
	}
}

func TestStateConfiguration_PermitIf_FirstPassingGuardWins(t *testing.T) {
	refuse := func(ctx context.Context) error { return errors.New("no") }
	allow := func(ctx context.Context) error { return nil }

	builder := NewBuilder(testStates)
	builder.Configure(testDraft).
		PermitIf(testSubmit, testReview, refuse).
		PermitIf(testSubmit, testSubmitted, allow)

	machine := builder.Build(testDraft)
	if _, err := machine.Fire(context.Background(), testSubmit); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine.State() != testSubmitted {
		t.Errorf("State = %v, want %v", machine.State(), testSubmitted)
	}
}

func TestStateMachine_HooksRunAndRollBack(t *testing.T) {
	var seen []Transition
	builder := NewBuilder(testStates)
	builder.Configure(testDraft).Permit(testSubmit, testSubmitted)
	builder.Configure(testSubmitted).Permit(testClose, testClosed)
	builder.OnTransition(func(ctx context.Context, tr Transition) error {
		seen = append(seen, tr)
		if tr.To == testClosed {
			return errors.New("store unavailable")
		}
		return nil
	})

	machine := builder.Build(testDraft)
	if _, err := machine.Fire(context.Background(), testSubmit); err != nil {
		t.Fatalf("Fire(submit) failed: %v", err)
	}
	if _, err := machine.Fire(context.Background(), testClose); err == nil {
		t.Fatal("Fire(close) should surface hook error")
	}

	if machine.State() != testSubmitted {
		t.Errorf("State = %v, want rollback to %v", machine.State(), testSubmitted)
	}
	if len(seen) != 2 {
		t.Errorf("hook calls = %d, want 2", len(seen))
	}
}

func TestBuilder_BuiltMachinesAreIsolated(t *testing.T) {
	builder := NewBuilder(testStates)
	builder.Configure(testDraft).Permit(testSubmit, testSubmitted)
	machine := builder.Build(testDraft)

	builder.Configure(testDraft).Permit(testClose, testClosed)

	if machine.CanFire(testClose) {
		t.Error("machine built earlier should not see later configuration")
	}
	if len(machine.PermittedTriggers()) != 1 {
		t.Errorf("PermittedTriggers() = %v, want one trigger", machine.PermittedTriggers())
	}
}

func TestActor_HasRole(t *testing.T) {
	head := Actor{ID: "u1", Role: RoleSchoolHead}
	if head.HasRole(RoleDivisionReviewer) {
		t.Error("school head should not hold division reviewer role")
	}
	if !head.HasRole(RoleDistrictReviewer, RoleSchoolHead) {
		t.Error("school head should match its own role")
	}
	if !SystemActor().HasRole(RoleSuperintendent) {
		t.Error("system actor should hold every role")
	}
}

func TestMissingDocumentsError(t *testing.T) {
	err := error(&MissingDocumentsError{
		LiquidationCode: "LIQ-1",
		Missing:         []MissingDocument{{CategoryID: "travel", RequirementID: "receipt"}},
	})

	if !errors.Is(err, ErrMissingRequiredDocuments) {
		t.Errorf("errors.Is(%v, ErrMissingRequiredDocuments) = false", err)
	}

	var detail *MissingDocumentsError
	if !errors.As(err, &detail) || len(detail.Missing) != 1 {
		t.Errorf("errors.As did not recover detail from %v", err)
	}
}

func TestTransient(t *testing.T) {
	base := errors.New("timeout")
	wrapped := Transient(base)

	if !IsTransient(wrapped) || !errors.Is(wrapped, base) {
		t.Errorf("Transient() = %v, want wrapping both sentinel and cause", wrapped)
	}
	if Transient(wrapped) != wrapped {
		t.Error("Transient() should not double wrap")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}
