package service

import (
	"context"
	"fmt"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/task"
)

// DecomposeRequest asks for a goal to be expanded into a balanced task set.
type DecomposeRequest struct {
	Lane task.Lane `json:"lane"`
	Goal string    `json:"goal"`
	// Create stores the generated cards immediately instead of returning
	// them as a dry-run proposal.
	Create bool `json:"create,omitempty"`
}

// Decompose expands a goal into the balanced-wave template: five tasks in
// one lane, two implementation, two validation, one documentation. The set
// passes wave composition by construction. Purely template driven; the
// objective text is for the worker prompt, not for this daemon.
func (s *WaveService) Decompose(ctx context.Context, req DecomposeRequest) ([]task.CreateRequest, error) {
	if !req.Lane.Valid() {
		return nil, fmt.Errorf("%w: unknown lane %q", domain.ErrValidation, req.Lane)
	}
	if req.Goal == "" {
		return nil, fmt.Errorf("%w: goal is required", domain.ErrValidation)
	}

	next, err := s.nextTaskNumber(ctx, req.Lane)
	if err != nil {
		return nil, err
	}

	template := []struct {
		typ       task.Type
		objective string
	}{
		{task.TypeAddStub, "Stub the entry points for: " + req.Goal},
		{task.TypeAddPureFn, "Implement the core logic for: " + req.Goal},
		{task.TypeAddTest, "Write tests covering: " + req.Goal},
		{task.TypeAddAsserts, "Add invariant checks for: " + req.Goal},
		{task.TypeDocSnippet, "Document usage of: " + req.Goal},
	}

	cards := make([]task.CreateRequest, 0, len(template))
	for i, tpl := range template {
		cards = append(cards, task.CreateRequest{
			ID:        fmt.Sprintf("%s%03d", req.Lane.Prefix(), next+i),
			Lane:      req.Lane,
			Type:      tpl.typ,
			Objective: tpl.objective,
		})
	}

	if req.Create {
		for _, c := range cards {
			if _, err := s.tasks.Create(ctx, c); err != nil {
				return nil, err
			}
		}
	}
	return cards, nil
}

// nextTaskNumber finds the first id number after the highest existing card
// in the lane, so generated ids never collide with hand-written ones.
func (s *WaveService) nextTaskNumber(ctx context.Context, lane task.Lane) (int, error) {
	existing, err := s.store.ListTasks(ctx, lane)
	if err != nil {
		return 0, err
	}
	highest := 0
	prefix := lane.Prefix()
	for _, t := range existing {
		var n int
		if _, err := fmt.Sscanf(t.ID, prefix+"%d", &n); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}
