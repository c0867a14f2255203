package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/domain/worker"
)

// balancedSet is a candidate set that passes every composition rule: two
// lanes, validation tasks in a pair.
func balancedSet() []task.CreateRequest {
	return []task.CreateRequest{
		{ID: "K001", Lane: task.LaneKernel, Type: task.TypeAddStub},
		{ID: "K002", Lane: task.LaneKernel, Type: task.TypeAddTest},
		{ID: "M001", Lane: task.LaneML, Type: task.TypeAddAsserts},
	}
}

func TestComposeRecordsMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.waves.Compose(ctx, balancedSet())
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("balanced set rejected: %v", res.Violations)
	}

	w, err := e.waves.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != wave.StatusComposing {
		t.Errorf("wave status = %s, want COMPOSING", w.Status)
	}
	if len(w.Members) != 3 || w.Members[0] != "KERNEL/K001" {
		t.Errorf("members = %v", w.Members)
	}
}

func TestComposeViolations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("EmptySet", func(t *testing.T) {
		res, err := e.waves.Compose(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.OK() {
			t.Fatal("empty set should be rejected")
		}
	})

	t.Run("TooManyLanes", func(t *testing.T) {
		res, err := e.waves.Compose(ctx, []task.CreateRequest{
			{ID: "K001", Lane: task.LaneKernel, Type: task.TypeAddStub},
			{ID: "M001", Lane: task.LaneML, Type: task.TypeAddStub},
			{ID: "Q001", Lane: task.LaneQuant, Type: task.TypeAddStub},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.OK() {
			t.Fatal("three lanes should exceed the cap of two")
		}
		if !strings.Contains(res.Violations[0], "lanes") {
			t.Errorf("violation should name the lane rule: %v", res.Violations)
		}
	})

	t.Run("LoneValidationTask", func(t *testing.T) {
		res, err := e.waves.Compose(ctx, []task.CreateRequest{
			{ID: "K001", Lane: task.LaneKernel, Type: task.TypeAddStub},
			{ID: "K002", Lane: task.LaneKernel, Type: task.TypeAddTest},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.OK() {
			t.Fatal("a single validation task should be rejected")
		}
	})

	t.Run("NoValidationTasksIsFine", func(t *testing.T) {
		res, err := e.waves.Compose(ctx, []task.CreateRequest{
			{ID: "K001", Lane: task.LaneKernel, Type: task.TypeAddStub},
			{ID: "K002", Lane: task.LaneKernel, Type: task.TypeDocSnippet},
		})
		if err != nil {
			t.Fatal(err)
		}
		if !res.OK() {
			t.Fatalf("the validation minimum only applies when the set has any: %v", res.Violations)
		}
	})
}

func TestComposeRejectsActiveWorkerCandidate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mustCreateTask(t, e, task.LaneKernel, "K001")
	if _, err := e.workers.Register(ctx, worker.RegisterRequest{Name: "w1", Lane: "KERNEL", TaskID: "K001"}); err != nil {
		t.Fatal(err)
	}

	res, err := e.waves.Compose(ctx, []task.CreateRequest{
		{ID: "K001", Lane: task.LaneKernel, Type: task.TypeAddStub},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Fatal("candidate with an active worker should be rejected")
	}
	if !strings.Contains(res.Violations[0], "w1") {
		t.Errorf("violation should name the worker: %v", res.Violations)
	}
}

func TestActivateRequiresAllMembersAssigned(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, c := range balancedSet() {
		if _, err := e.tasks.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.waves.Compose(ctx, balancedSet()); err != nil {
		t.Fatal(err)
	}

	if _, err := e.workers.Register(ctx, worker.RegisterRequest{Name: "w1", Lane: "KERNEL", TaskID: "K001"}); err != nil {
		t.Fatal(err)
	}

	_, err := e.waves.Activate(ctx)
	var incomplete *wave.IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if len(incomplete.Unassigned) != 2 {
		t.Errorf("unassigned = %v, want K002 and M001", incomplete.Unassigned)
	}

	if _, err := e.workers.Register(ctx, worker.RegisterRequest{Name: "w2", Lane: "KERNEL", TaskID: "K002"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.workers.Register(ctx, worker.RegisterRequest{Name: "w3", Lane: "ML", TaskID: "M001"}); err != nil {
		t.Fatal(err)
	}

	w, err := e.waves.Activate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != wave.StatusActive {
		t.Errorf("wave status = %s, want ACTIVE", w.Status)
	}
}

func TestActivateWithoutMembers(t *testing.T) {
	e := newEnv(t)
	if _, err := e.waves.Activate(context.Background()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestIncrementFreshWave(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	w, err := e.waves.Increment(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w.Number != 1 || w.Status != wave.StatusComposing {
		t.Fatalf("expected wave 1 COMPOSING, got %+v", w)
	}
}

func TestIncrementRefusedWhileInProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, c := range balancedSet() {
		if _, err := e.tasks.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.waves.Compose(ctx, balancedSet()); err != nil {
		t.Fatal(err)
	}

	_, err := e.waves.Increment(ctx)
	var inProgress *wave.InProgressError
	if !errors.As(err, &inProgress) {
		t.Fatalf("expected InProgressError, got %v", err)
	}

	// The counter must not have moved.
	w, _ := e.waves.Status(ctx)
	if w.Number != 0 {
		t.Errorf("refused increment moved the counter to %d", w.Number)
	}
}

// TestWaveEndToEnd drives one full wave: compose, register, attempt an early
// increment, report mixed outcomes, collect, then advance.
func TestWaveEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, c := range balancedSet() {
		if _, err := e.tasks.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	res, err := e.waves.Compose(ctx, balancedSet())
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("compose rejected: %v", res.Violations)
	}

	regs := []worker.RegisterRequest{
		{Name: "w1", Lane: "KERNEL", TaskID: "K001", Wave: 0},
		{Name: "w2", Lane: "KERNEL", TaskID: "K002", Wave: 0},
		{Name: "w3", Lane: "ML", TaskID: "M001", Wave: 0},
	}
	for _, r := range regs {
		if _, err := e.workers.Register(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.waves.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := e.waves.Increment(ctx); err == nil {
		t.Fatal("increment must be refused while members are in flight")
	}

	reports := []result.Result{
		{TaskID: "K001", Lane: task.LaneKernel, Status: task.StatusDone, Worker: "w1", Summary: "done"},
		{TaskID: "K002", Lane: task.LaneKernel, Status: task.StatusPartial, Worker: "w2", Notes: "one deliverable left"},
		{TaskID: "M001", Lane: task.LaneML, Status: task.StatusBlocked, Worker: "w3", Notes: "upstream schema missing"},
	}
	for i := range reports {
		if err := e.collector.Submit(ctx, &reports[i]); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := e.waves.Collect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := result.CollectionSummary{Done: 1, Partial: 1, Blocked: 1}
	if *summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}

	w, err := e.waves.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != wave.StatusComplete {
		t.Fatalf("all members terminal, wave status = %s", w.Status)
	}

	advanced, err := e.waves.Increment(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if advanced.Number != 1 || len(advanced.Members) != 0 || advanced.Status != wave.StatusComposing {
		t.Fatalf("unexpected fresh wave: %+v", advanced)
	}

	workers, _ := e.workers.List(ctx)
	if len(workers) != 0 {
		t.Errorf("collection left workers registered: %+v", workers)
	}
}

func TestCollectMarksPartialProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, c := range balancedSet() {
		if _, err := e.tasks.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.waves.Compose(ctx, balancedSet()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.workers.Register(ctx, worker.RegisterRequest{Name: "w1", Lane: "KERNEL", TaskID: "K001"}); err != nil {
		t.Fatal(err)
	}
	if err := e.collector.Submit(ctx, &result.Result{
		TaskID: "K001", Lane: task.LaneKernel, Status: task.StatusDone, Worker: "w1",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.waves.Collect(ctx); err != nil {
		t.Fatal(err)
	}

	w, _ := e.waves.Status(ctx)
	if w.Status != wave.StatusCollecting {
		t.Fatalf("one of three members terminal, status = %s, want COLLECTING", w.Status)
	}

	if _, err := e.waves.Increment(ctx); err == nil {
		t.Fatal("increment must stay refused until every member is terminal")
	}
}

func TestDecomposeTemplate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cards, err := e.waves.Decompose(ctx, DecomposeRequest{Lane: task.LaneKernel, Goal: "ring buffer"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 5 {
		t.Fatalf("expected 5 cards, got %d", len(cards))
	}

	wantTypes := []task.Type{
		task.TypeAddStub, task.TypeAddPureFn, task.TypeAddTest,
		task.TypeAddAsserts, task.TypeDocSnippet,
	}
	for i, c := range cards {
		if c.Type != wantTypes[i] {
			t.Errorf("card %d type = %s, want %s", i, c.Type, wantTypes[i])
		}
		if c.Lane != task.LaneKernel {
			t.Errorf("card %d lane = %s", i, c.Lane)
		}
		if !strings.Contains(c.Objective, "ring buffer") {
			t.Errorf("card %d objective missing the goal: %q", i, c.Objective)
		}
	}
	if cards[0].ID != "K001" || cards[4].ID != "K005" {
		t.Errorf("ids = %s..%s, want K001..K005", cards[0].ID, cards[4].ID)
	}

	// A dry run stores nothing.
	tasks, _ := e.tasks.List(ctx, task.LaneKernel)
	if len(tasks) != 0 {
		t.Fatalf("dry run created %d tasks", len(tasks))
	}
}

func TestDecomposeNumbersAfterExistingCards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mustCreateTask(t, e, task.LaneKernel, "K007")

	cards, err := e.waves.Decompose(ctx, DecomposeRequest{
		Lane: task.LaneKernel, Goal: "scheduler", Create: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cards[0].ID != "K008" {
		t.Errorf("first generated id = %s, want K008", cards[0].ID)
	}

	tasks, err := e.tasks.List(ctx, task.LaneKernel)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 6 {
		t.Fatalf("expected 1 existing + 5 generated, got %d", len(tasks))
	}
}

func TestDecomposeValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.waves.Decompose(ctx, DecomposeRequest{Lane: "FRONTEND", Goal: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown lane: expected ErrValidation, got %v", err)
	}
	if _, err := e.waves.Decompose(ctx, DecomposeRequest{Lane: task.LaneKernel}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing goal: expected ErrValidation, got %v", err)
	}
}
