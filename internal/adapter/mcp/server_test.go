package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	swarmmcp "github.com/hivetown/swarmd/internal/adapter/mcp"
	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/service"
)

// --- Mocks ---

type mockTaskAPI struct {
	tasks []task.Task
	err   error
}

func (m *mockTaskAPI) List(_ context.Context, lane task.Lane) ([]task.Task, error) {
	if lane == "" {
		return m.tasks, m.err
	}
	var out []task.Task
	for _, t := range m.tasks {
		if t.Lane == lane {
			out = append(out, t)
		}
	}
	return out, m.err
}

func (m *mockTaskAPI) Get(_ context.Context, lane task.Lane, id string) (*task.Task, error) {
	for i := range m.tasks {
		if m.tasks[i].Lane == lane && m.tasks[i].ID == id {
			return &m.tasks[i], nil
		}
	}
	return nil, m.err
}

func (m *mockTaskAPI) Create(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	if m.err != nil {
		return nil, m.err
	}
	t := &task.Task{ID: req.ID, Lane: req.Lane, Type: req.Type, Status: task.StatusPending}
	m.tasks = append(m.tasks, *t)
	return t, nil
}

func (m *mockTaskAPI) UpdateStatus(_ context.Context, lane task.Lane, id string, next task.Status, _ string) (*task.Task, error) {
	for i := range m.tasks {
		if m.tasks[i].Lane == lane && m.tasks[i].ID == id {
			m.tasks[i].Status = next
			return &m.tasks[i], nil
		}
	}
	return nil, m.err
}

type mockLockAPI struct {
	held map[string]lock.Lock
	err  error
}

func (m *mockLockAPI) Acquire(_ context.Context, req lock.AcquireRequest) (*service.Grant, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range req.Paths {
		m.held[p] = lock.Lock{Path: p, Holder: req.Holder, Token: "tok-1"}
	}
	return &service.Grant{Token: "tok-1", Paths: req.Paths, Holder: req.Holder}, nil
}

func (m *mockLockAPI) Release(_ context.Context, req lock.ReleaseRequest) ([]string, error) {
	var released []string
	for _, p := range req.Paths {
		if l, ok := m.held[p]; ok && l.Holder == req.Holder {
			delete(m.held, p)
			released = append(released, p)
		}
	}
	return released, m.err
}

func (m *mockLockAPI) Check(_ context.Context, path string) (*lock.Lock, bool, error) {
	if l, ok := m.held[path]; ok {
		return &l, true, nil
	}
	return nil, false, m.err
}

func (m *mockLockAPI) List(_ context.Context) ([]lock.Lock, error) {
	out := make([]lock.Lock, 0, len(m.held))
	for _, l := range m.held {
		out = append(out, l)
	}
	return out, m.err
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	cfg := swarmmcp.ServerConfig{
		Addr:    ":3001",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := swarmmcp.NewServer(cfg, swarmmcp.ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := swarmmcp.ServerConfig{
		Addr:    ":0",
		Name:    "test-server",
		Version: "0.1.0",
	}
	s := swarmmcp.NewServer(cfg, swarmmcp.ServerDeps{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	s := swarmmcp.NewServer(swarmmcp.ServerConfig{Name: "test", Version: "0.1.0"}, swarmmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	if len(tools) != 17 {
		t.Fatalf("expected 17 tools, got %d", len(tools))
	}

	expectedTools := map[string]bool{
		"swarm_status":       false,
		"task_list":          false,
		"task_get":           false,
		"task_create":        false,
		"task_update_status": false,
		"worker_register":    false,
		"worker_unregister":  false,
		"worker_list":        false,
		"lock_acquire":       false,
		"lock_release":       false,
		"lock_check":         false,
		"lock_list":          false,
		"wave_status":        false,
		"wave_increment":     false,
		"wave_collect":       false,
		"wave_decompose":     false,
		"result_submit":      false,
	}
	for name := range tools {
		if _, ok := expectedTools[name]; ok {
			expectedTools[name] = true
		} else {
			t.Errorf("unexpected tool: %s", name)
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleTaskList(t *testing.T) {
	deps := swarmmcp.ServerDeps{
		Tasks: &mockTaskAPI{
			tasks: []task.Task{
				{ID: "K001", Lane: task.LaneKernel, Status: task.StatusPending},
				{ID: "M001", Lane: task.LaneML, Status: task.StatusPending},
			},
		},
	}
	s := swarmmcp.NewServer(swarmmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	listTool, ok := tools["task_list"]
	if !ok {
		t.Fatal("task_list tool not found")
	}

	ctx := context.Background()
	result, err := listTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "task_list",
			Arguments: map[string]any{"lane": "KERNEL"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var tasks []task.Task
	if err := json.Unmarshal([]byte(text.Text), &tasks); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "K001" {
		t.Fatalf("expected the KERNEL card only, got %+v", tasks)
	}
}

func TestHandleTaskGetMissingArgs(t *testing.T) {
	deps := swarmmcp.ServerDeps{Tasks: &mockTaskAPI{}}
	s := swarmmcp.NewServer(swarmmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)

	tools := s.MCPServer().ListTools()
	getTool, ok := tools["task_get"]
	if !ok {
		t.Fatal("task_get tool not found")
	}

	ctx := context.Background()
	result, err := getTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "task_get"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing lane and id")
	}
}

func TestHandleTaskCreate(t *testing.T) {
	mock := &mockTaskAPI{}
	s := swarmmcp.NewServer(swarmmcp.ServerConfig{Name: "test", Version: "0.1.0"},
		swarmmcp.ServerDeps{Tasks: mock})

	tools := s.MCPServer().ListTools()
	createTool, ok := tools["task_create"]
	if !ok {
		t.Fatal("task_create tool not found")
	}

	ctx := context.Background()
	result, err := createTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "task_create",
			Arguments: map[string]any{
				"id": "K001", "lane": "KERNEL", "type": "ADD_STUB",
				"objective":     "stub the ring buffer",
				"touched_files": []any{"ring.go"},
			},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var created task.Task
	if err := json.Unmarshal([]byte(text.Text), &created); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if created.ID != "K001" || created.Status != task.StatusPending {
		t.Fatalf("unexpected card: %+v", created)
	}
	if len(mock.tasks) != 1 {
		t.Fatalf("card not stored: %+v", mock.tasks)
	}
}

func TestHandleLockAcquireAndCheck(t *testing.T) {
	mock := &mockLockAPI{held: map[string]lock.Lock{}}
	s := swarmmcp.NewServer(swarmmcp.ServerConfig{Name: "test", Version: "0.1.0"},
		swarmmcp.ServerDeps{Locks: mock})

	tools := s.MCPServer().ListTools()
	acquireTool, ok := tools["lock_acquire"]
	if !ok {
		t.Fatal("lock_acquire tool not found")
	}

	ctx := context.Background()
	result, err := acquireTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "lock_acquire",
			Arguments: map[string]any{
				"paths":  []any{"a.go", "b.go"},
				"holder": "w1",
			},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var grant service.Grant
	if err := json.Unmarshal([]byte(text.Text), &grant); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if grant.Token == "" || len(grant.Paths) != 2 {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	checkTool := tools["lock_check"]
	result, err = checkTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "lock_check",
			Arguments: map[string]any{"path": "a.go"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var check struct {
		Held bool `json:"held"`
	}
	text = result.Content[0].(mcplib.TextContent)
	if err := json.Unmarshal([]byte(text.Text), &check); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !check.Held {
		t.Fatal("expected a.go to read as held")
	}
}

func TestHandleLockCheckMissingArg(t *testing.T) {
	s := swarmmcp.NewServer(swarmmcp.ServerConfig{Name: "test", Version: "0.1.0"},
		swarmmcp.ServerDeps{Locks: &mockLockAPI{held: map[string]lock.Lock{}}})

	tools := s.MCPServer().ListTools()
	checkTool, ok := tools["lock_check"]
	if !ok {
		t.Fatal("lock_check tool not found")
	}

	ctx := context.Background()
	result, err := checkTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "lock_check"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing path")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := swarmmcp.NewServer(swarmmcp.ServerConfig{Name: "test", Version: "0.1.0"}, swarmmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	statusTool, ok := tools["swarm_status"]
	if !ok {
		t.Fatal("swarm_status tool not found")
	}

	ctx := context.Background()
	result, err := statusTool.Handler(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "swarm_status"},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}
