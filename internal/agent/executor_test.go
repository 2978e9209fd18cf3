package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/policy"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/pkg/models"
)

// stubTool implements tools.Tool for executor tests.
type stubTool struct {
	name      string
	execFunc  func(ctx context.Context) (*tools.Result, error)
	execCount atomic.Int32
}

func (m *stubTool) Name() string                                            { return m.name }
func (m *stubTool) Description() string                                    { return "stub tool" }
func (m *stubTool) Schema() json.RawMessage                                { return json.RawMessage(`{"type":"object"}`) }
func (m *stubTool) Validate(json.RawMessage) error                         { return nil }
func (m *stubTool) RequiredPermissions(json.RawMessage) policy.PermissionSet { return nil }
func (m *stubTool) Execute(ctx context.Context, tc *tools.Context, params json.RawMessage) (*tools.Result, error) {
	m.execCount.Add(1)
	if m.execFunc != nil {
		return m.execFunc(ctx)
	}
	return &tools.Result{Content: "success"}, nil
}

func newExecutorRegistry(tool *stubTool) *tools.Registry {
	r := tools.New(nil, nil)
	r.Register(tool)
	return r
}

func TestExecutor_Execute_Success(t *testing.T) {
	tool := &stubTool{name: "test_tool", execFunc: func(ctx context.Context) (*tools.Result, error) {
		return &tools.Result{Content: "result"}, nil
	}}
	executor := NewExecutor(newExecutorRegistry(tool), nil, nil)

	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "test_tool",
		Input: json.RawMessage(`{}`),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Result.Content != "result" {
		t.Errorf("content = %q, want %q", result.Result.Content, "result")
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestExecutor_Execute_UnknownTool(t *testing.T) {
	executor := NewExecutor(tools.New(nil, nil), nil, nil)

	result := executor.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  "missing",
		Input: json.RawMessage(`{}`),
	})

	if result.Error == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExecutor_Execute_RetriesOnTimeout(t *testing.T) {
	var calls atomic.Int32
	tool := &stubTool{name: "slow", execFunc: func(ctx context.Context) (*tools.Result, error) {
		calls.Add(1)
		if calls.Load() < 2 {
			time.Sleep(50 * time.Millisecond)
		}
		return &tools.Result{Content: "ok"}, nil
	}}
	executor := NewExecutor(newExecutorRegistry(tool), nil, &ExecutorConfig{
		MaxConcurrency:  1,
		DefaultTimeout:  10 * time.Millisecond,
		DefaultRetries:  2,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: 5 * time.Millisecond,
	})

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "slow", Input: json.RawMessage(`{}`)})
	if result.Error != nil {
		t.Fatalf("expected eventual success, got %v", result.Error)
	}
	if result.Attempts < 2 {
		t.Errorf("attempts = %d, want >= 2", result.Attempts)
	}
}

func TestExecutor_Execute_NonRetryableFailsFast(t *testing.T) {
	tool := &stubTool{name: "broken", execFunc: func(ctx context.Context) (*tools.Result, error) {
		return nil, errors.New("boom")
	}}
	executor := NewExecutor(newExecutorRegistry(tool), nil, &ExecutorConfig{
		MaxConcurrency: 1, DefaultTimeout: time.Second, DefaultRetries: 3, RetryBackoff: time.Millisecond, MaxRetryBackoff: time.Millisecond,
	})

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "broken", Input: json.RawMessage(`{}`)})
	if result.Error == nil {
		t.Fatal("expected error")
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (execution errors are not retryable by default classification)", result.Attempts)
	}
}

func TestExecutor_ExecuteAll_PreservesOrder(t *testing.T) {
	r := tools.New(nil, nil)
	for _, name := range []string{"a", "b", "c"} {
		n := name
		r.Register(&stubTool{name: n, execFunc: func(ctx context.Context) (*tools.Result, error) {
			return &tools.Result{Content: n}, nil
		}})
	}
	executor := NewExecutor(r, nil, nil)

	calls := []models.ToolCall{
		{ID: "1", Name: "a", Input: json.RawMessage(`{}`)},
		{ID: "2", Name: "b", Input: json.RawMessage(`{}`)},
		{ID: "3", Name: "c", Input: json.RawMessage(`{}`)},
	}
	results := executor.ExecuteAll(context.Background(), calls)
	for i, want := range []string{"a", "b", "c"} {
		if results[i].Result == nil || results[i].Result.Content != want {
			t.Errorf("result[%d] = %+v, want content %q", i, results[i], want)
		}
	}
}

func TestResultsToMessages(t *testing.T) {
	results := []*ExecutionResult{
		{ToolCallID: "1", Result: &tools.Result{Content: "ok"}},
		{ToolCallID: "2", Error: errors.New("fail")},
	}
	msgs := ResultsToMessages(results)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].IsError {
		t.Error("first message should not be an error")
	}
	if !msgs[1].IsError {
		t.Error("second message should be an error")
	}
}

func TestAnyErrors(t *testing.T) {
	if AnyErrors([]*ExecutionResult{{Result: &tools.Result{}}}) {
		t.Error("expected no errors")
	}
	if !AnyErrors([]*ExecutionResult{{Error: errors.New("x")}}) {
		t.Error("expected an error")
	}
}
