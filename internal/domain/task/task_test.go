package task_test

import (
	"errors"
	"testing"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/task"
)

func TestStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to task.Status
		want     bool
	}{
		{task.StatusPending, task.StatusInProgress, true},
		{task.StatusPending, task.StatusBlocked, true},
		{task.StatusPending, task.StatusDone, false},
		{task.StatusPending, task.StatusPartial, false},
		{task.StatusPending, task.StatusFailed, false},
		{task.StatusInProgress, task.StatusDone, true},
		{task.StatusInProgress, task.StatusPartial, true},
		{task.StatusInProgress, task.StatusBlocked, true},
		{task.StatusInProgress, task.StatusFailed, true},
		{task.StatusInProgress, task.StatusPending, false},
		{task.StatusInProgress, task.StatusInProgress, false},
		{task.StatusDone, task.StatusInProgress, false},
		{task.StatusDone, task.StatusPending, false},
		{task.StatusPartial, task.StatusInProgress, false},
		{task.StatusBlocked, task.StatusInProgress, false},
		{task.StatusFailed, task.StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []task.Status{task.StatusDone, task.StatusPartial, task.StatusBlocked, task.StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []task.Status{task.StatusPending, task.StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestLaneValid(t *testing.T) {
	for _, l := range task.Lanes() {
		if !l.Valid() {
			t.Errorf("lane %s should be valid", l)
		}
	}
	for _, l := range []task.Lane{"", "kernel", "FRONTEND"} {
		if l.Valid() {
			t.Errorf("lane %q should be invalid", l)
		}
	}
}

func TestLanePrefix(t *testing.T) {
	cases := map[task.Lane]string{
		task.LaneKernel:      "K",
		task.LaneML:          "M",
		task.LaneQuant:       "Q",
		task.LaneDEX:         "D",
		task.LaneIntegration: "INT-",
	}
	for lane, want := range cases {
		if got := lane.Prefix(); got != want {
			t.Errorf("Prefix(%s) = %q, want %q", lane, got, want)
		}
	}
}

func TestTypeIsValidation(t *testing.T) {
	if !task.TypeAddTest.IsValidation() || !task.TypeAddAsserts.IsValidation() {
		t.Error("test and assert types are validation shapes")
	}
	for _, typ := range []task.Type{task.TypeAddStub, task.TypeAddPureFn, task.TypeDocSnippet} {
		if typ.IsValidation() {
			t.Errorf("%s should not be a validation shape", typ)
		}
	}
}

func TestKey(t *testing.T) {
	tk := task.Task{ID: "K001", Lane: task.LaneKernel}
	if got := tk.Key(); got != "KERNEL/K001" {
		t.Errorf("Key() = %q, want KERNEL/K001", got)
	}
	if got := task.Key(task.LaneML, "M002"); got != "ML/M002" {
		t.Errorf("Key(ML, M002) = %q", got)
	}
}

func TestErrorsUnwrapToConflict(t *testing.T) {
	var err error = &task.DuplicateError{Lane: task.LaneKernel, ID: "K001"}
	if !errors.Is(err, domain.ErrConflict) {
		t.Error("DuplicateError should unwrap to ErrConflict")
	}

	err = &task.InvalidTransitionError{
		Lane: task.LaneKernel, ID: "K001",
		From: task.StatusDone, To: task.StatusInProgress,
	}
	if !errors.Is(err, domain.ErrConflict) {
		t.Error("InvalidTransitionError should unwrap to ErrConflict")
	}
}
