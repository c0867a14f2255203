package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/worker"
	"github.com/hivetown/swarmd/internal/service"
)

// registerTools registers the swarm tool set on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.swarmStatusTool(),
		s.taskListTool(),
		s.taskGetTool(),
		s.taskCreateTool(),
		s.taskUpdateStatusTool(),
		s.workerRegisterTool(),
		s.workerUnregisterTool(),
		s.workerListTool(),
		s.lockAcquireTool(),
		s.lockReleaseTool(),
		s.lockCheckTool(),
		s.lockListTool(),
		s.waveStatusTool(),
		s.waveIncrementTool(),
		s.waveCollectTool(),
		s.waveDecomposeTool(),
		s.resultSubmitTool(),
	)
}

func toolResultJSON(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err)
	}
	return mcplib.NewToolResultText(string(data))
}

func stringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

func intArg(args map[string]any, name string) int {
	// JSON numbers decode as float64.
	if f, ok := args[name].(float64); ok {
		return int(f)
	}
	return 0
}

func stringsArg(args map[string]any, name string) []string {
	raw, ok := args[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) swarmStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("swarm_status",
		mcplib.WithDescription("Get the swarm snapshot: wave number, task counts, active workers, held locks"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSwarmStatus}
}

func (s *Server) handleSwarmStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Status == nil {
		return mcplib.NewToolResultError("status service not configured"), nil
	}
	snap, err := s.deps.Status.Snapshot(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read status", err), nil
	}
	return toolResultJSON(snap), nil
}

func (s *Server) taskListTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("task_list",
		mcplib.WithDescription("List task cards, optionally filtered by lane"),
		mcplib.WithString("lane", mcplib.Description("Lane filter: KERNEL, ML, QUANT, DEX, or INTEGRATION")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleTaskList}
}

func (s *Server) handleTaskList(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	tasks, err := s.deps.Tasks.List(ctx, task.Lane(stringArg(req.GetArguments(), "lane")))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list tasks", err), nil
	}
	return toolResultJSON(tasks), nil
}

func (s *Server) taskGetTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("task_get",
		mcplib.WithDescription("Get one full task card by lane and id"),
		mcplib.WithString("lane", mcplib.Required(), mcplib.Description("The task's lane")),
		mcplib.WithString("id", mcplib.Required(), mcplib.Description("The task id, e.g. K001")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleTaskGet}
}

func (s *Server) handleTaskGet(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	args := req.GetArguments()
	lane, id := stringArg(args, "lane"), stringArg(args, "id")
	if lane == "" || id == "" {
		return mcplib.NewToolResultError("lane and id are required"), nil
	}
	t, err := s.deps.Tasks.Get(ctx, task.Lane(lane), id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to get task", err), nil
	}
	return toolResultJSON(t), nil
}

func (s *Server) taskCreateTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("task_create",
		mcplib.WithDescription("Create a new PENDING task card"),
		mcplib.WithString("lane", mcplib.Required(), mcplib.Description("Lane: KERNEL, ML, QUANT, DEX, or INTEGRATION")),
		mcplib.WithString("id", mcplib.Required(), mcplib.Description("Task id with the lane prefix, e.g. K012")),
		mcplib.WithString("type", mcplib.Required(), mcplib.Description("Task type: ADD_STUB, ADD_PURE_FN, ADD_TEST, ADD_ASSERTS, or DOC_SNIPPET")),
		mcplib.WithString("objective", mcplib.Description("One-line objective for the worker")),
		mcplib.WithArray("touched_files", mcplib.Description("Files the task may modify (max 2)")),
		mcplib.WithString("origin", mcplib.Description("Optional id of the task this one follows up on")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleTaskCreate}
}

func (s *Server) handleTaskCreate(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	args := req.GetArguments()
	t, err := s.deps.Tasks.Create(ctx, task.CreateRequest{
		ID:           stringArg(args, "id"),
		Lane:         task.Lane(stringArg(args, "lane")),
		Type:         task.Type(stringArg(args, "type")),
		Objective:    stringArg(args, "objective"),
		TouchedFiles: stringsArg(args, "touched_files"),
		Origin:       stringArg(args, "origin"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to create task", err), nil
	}
	return toolResultJSON(t), nil
}

func (s *Server) taskUpdateStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("task_update_status",
		mcplib.WithDescription("Apply a status transition to a task card"),
		mcplib.WithString("lane", mcplib.Required(), mcplib.Description("The task's lane")),
		mcplib.WithString("id", mcplib.Required(), mcplib.Description("The task id")),
		mcplib.WithString("status", mcplib.Required(), mcplib.Description("Target status: IN_PROGRESS, DONE, PARTIAL, BLOCKED, or FAILED")),
		mcplib.WithString("notes", mcplib.Description("Required for PARTIAL: the remaining scope")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleTaskUpdateStatus}
}

func (s *Server) handleTaskUpdateStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	args := req.GetArguments()
	t, err := s.deps.Tasks.UpdateStatus(ctx,
		task.Lane(stringArg(args, "lane")), stringArg(args, "id"),
		task.Status(stringArg(args, "status")), stringArg(args, "notes"))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to update status", err), nil
	}
	return toolResultJSON(t), nil
}

func (s *Server) workerRegisterTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("worker_register",
		mcplib.WithDescription("Register a worker and claim its task for one timebox"),
		mcplib.WithString("name", mcplib.Required(), mcplib.Description("Unique worker name")),
		mcplib.WithString("lane", mcplib.Required(), mcplib.Description("The task's lane")),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task to claim")),
		mcplib.WithNumber("wave", mcplib.Description("Wave number the worker belongs to")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWorkerRegister}
}

func (s *Server) handleWorkerRegister(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workers == nil {
		return mcplib.NewToolResultError("worker service not configured"), nil
	}
	args := req.GetArguments()
	w, err := s.deps.Workers.Register(ctx, worker.RegisterRequest{
		Name:   stringArg(args, "name"),
		Lane:   stringArg(args, "lane"),
		TaskID: stringArg(args, "task_id"),
		Wave:   intArg(args, "wave"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to register worker", err), nil
	}
	return toolResultJSON(w), nil
}

func (s *Server) workerUnregisterTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("worker_unregister",
		mcplib.WithDescription("Unregister a worker; idempotent"),
		mcplib.WithString("name", mcplib.Required(), mcplib.Description("The worker name")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWorkerUnregister}
}

func (s *Server) handleWorkerUnregister(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workers == nil {
		return mcplib.NewToolResultError("worker service not configured"), nil
	}
	name := stringArg(req.GetArguments(), "name")
	if name == "" {
		return mcplib.NewToolResultError("name is required"), nil
	}
	if err := s.deps.Workers.Unregister(ctx, name); err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to unregister worker", err), nil
	}
	return toolResultJSON(map[string]string{"status": "unregistered"}), nil
}

func (s *Server) workerListTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("worker_list",
		mcplib.WithDescription("List registered workers with remaining timebox seconds"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWorkerList}
}

func (s *Server) handleWorkerList(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Workers == nil {
		return mcplib.NewToolResultError("worker service not configured"), nil
	}
	workers, err := s.deps.Workers.List(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list workers", err), nil
	}
	return toolResultJSON(workers), nil
}

func (s *Server) lockAcquireTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lock_acquire",
		mcplib.WithDescription("Reserve a group of file paths, all or nothing; returns a token or the conflicting paths"),
		mcplib.WithArray("paths", mcplib.Required(), mcplib.Description("File paths to reserve")),
		mcplib.WithString("holder", mcplib.Required(), mcplib.Description("The reserving worker's name")),
		mcplib.WithNumber("ttl_seconds", mcplib.Description("Reservation lifetime; defaults to 300")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLockAcquire}
}

func (s *Server) handleLockAcquire(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Locks == nil {
		return mcplib.NewToolResultError("lock service not configured"), nil
	}
	args := req.GetArguments()
	grant, err := s.deps.Locks.Acquire(ctx, lock.AcquireRequest{
		Paths:      stringsArg(args, "paths"),
		Holder:     stringArg(args, "holder"),
		TTLSeconds: intArg(args, "ttl_seconds"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to acquire locks", err), nil
	}
	return toolResultJSON(grant), nil
}

func (s *Server) lockReleaseTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lock_release",
		mcplib.WithDescription("Release the holder's reservations on the given paths; idempotent"),
		mcplib.WithArray("paths", mcplib.Required(), mcplib.Description("File paths to release")),
		mcplib.WithString("holder", mcplib.Required(), mcplib.Description("The releasing worker's name")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLockRelease}
}

func (s *Server) handleLockRelease(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Locks == nil {
		return mcplib.NewToolResultError("lock service not configured"), nil
	}
	args := req.GetArguments()
	released, err := s.deps.Locks.Release(ctx, lock.ReleaseRequest{
		Paths:  stringsArg(args, "paths"),
		Holder: stringArg(args, "holder"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to release locks", err), nil
	}
	return toolResultJSON(map[string]any{"released": released}), nil
}

func (s *Server) lockCheckTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lock_check",
		mcplib.WithDescription("Check whether a file path is currently reserved"),
		mcplib.WithString("path", mcplib.Required(), mcplib.Description("The file path to check")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLockCheck}
}

func (s *Server) handleLockCheck(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Locks == nil {
		return mcplib.NewToolResultError("lock service not configured"), nil
	}
	path := stringArg(req.GetArguments(), "path")
	if path == "" {
		return mcplib.NewToolResultError("path is required"), nil
	}
	l, held, err := s.deps.Locks.Check(ctx, path)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to check lock", err), nil
	}
	resp := map[string]any{"held": held}
	if held {
		resp["lock"] = l
	}
	return toolResultJSON(resp), nil
}

func (s *Server) lockListTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lock_list",
		mcplib.WithDescription("List all active file reservations"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLockList}
}

func (s *Server) handleLockList(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Locks == nil {
		return mcplib.NewToolResultError("lock service not configured"), nil
	}
	locks, err := s.deps.Locks.List(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list locks", err), nil
	}
	return toolResultJSON(locks), nil
}

func (s *Server) waveStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("wave_status",
		mcplib.WithDescription("Get the current wave: number, members, status"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWaveStatus}
}

func (s *Server) handleWaveStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Waves == nil {
		return mcplib.NewToolResultError("wave service not configured"), nil
	}
	w, err := s.deps.Waves.Status(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read wave", err), nil
	}
	return toolResultJSON(w), nil
}

func (s *Server) waveIncrementTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("wave_increment",
		mcplib.WithDescription("Advance the wave counter; refused while the current wave is unfinished"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWaveIncrement}
}

func (s *Server) handleWaveIncrement(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Waves == nil {
		return mcplib.NewToolResultError("wave service not configured"), nil
	}
	w, err := s.deps.Waves.Increment(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to increment wave", err), nil
	}
	return toolResultJSON(w), nil
}

func (s *Server) waveCollectTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("wave_collect",
		mcplib.WithDescription("Drain the result inbox and return the collection summary"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWaveCollect}
}

func (s *Server) handleWaveCollect(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Waves == nil {
		return mcplib.NewToolResultError("wave service not configured"), nil
	}
	summary, err := s.deps.Waves.Collect(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to collect", err), nil
	}
	return toolResultJSON(summary), nil
}

func (s *Server) waveDecomposeTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("wave_decompose",
		mcplib.WithDescription("Expand a goal into the balanced task template: 2 implementation, 2 validation, 1 doc"),
		mcplib.WithString("lane", mcplib.Required(), mcplib.Description("Lane for the generated tasks")),
		mcplib.WithString("goal", mcplib.Required(), mcplib.Description("The goal to decompose")),
		mcplib.WithBoolean("create", mcplib.Description("Store the generated cards immediately")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWaveDecompose}
}

func (s *Server) handleWaveDecompose(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Waves == nil {
		return mcplib.NewToolResultError("wave service not configured"), nil
	}
	args := req.GetArguments()
	create, _ := args["create"].(bool)
	cards, err := s.deps.Waves.Decompose(ctx, service.DecomposeRequest{
		Lane:   task.Lane(stringArg(args, "lane")),
		Goal:   stringArg(args, "goal"),
		Create: create,
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to decompose", err), nil
	}
	return toolResultJSON(map[string]any{"tasks": cards}), nil
}

func (s *Server) resultSubmitTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("result_submit",
		mcplib.WithDescription("Submit a completion record for later collection"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The completed task's id")),
		mcplib.WithString("lane", mcplib.Required(), mcplib.Description("The task's lane")),
		mcplib.WithString("status", mcplib.Required(), mcplib.Description("Terminal status: DONE, PARTIAL, BLOCKED, or FAILED")),
		mcplib.WithString("worker", mcplib.Description("The reporting worker's name")),
		mcplib.WithArray("files_changed", mcplib.Description("Files the worker changed")),
		mcplib.WithNumber("lines_changed", mcplib.Description("Total lines changed")),
		mcplib.WithString("summary", mcplib.Description("One-line summary of what was done")),
		mcplib.WithString("notes", mcplib.Description("Required for PARTIAL: the remaining scope")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleResultSubmit}
}

func (s *Server) handleResultSubmit(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Results == nil {
		return mcplib.NewToolResultError("result service not configured"), nil
	}
	args := req.GetArguments()
	r := &result.Result{
		TaskID:       stringArg(args, "task_id"),
		Lane:         task.Lane(stringArg(args, "lane")),
		Status:       task.Status(stringArg(args, "status")),
		Worker:       stringArg(args, "worker"),
		FilesChanged: stringsArg(args, "files_changed"),
		LinesChanged: intArg(args, "lines_changed"),
		Summary:      stringArg(args, "summary"),
		Notes:        stringArg(args, "notes"),
	}
	if err := s.deps.Results.Submit(ctx, r); err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit result", err), nil
	}
	return toolResultJSON(map[string]string{"status": "submitted"}), nil
}
