package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zirpo/pm-backend/internal/model"
)

type stubCompleter struct {
	reply    string
	err      error
	jsonMode bool
	messages []Message
}

func (s *stubCompleter) Complete(_ context.Context, _ string, messages []Message, jsonMode bool) (string, error) {
	s.messages = messages
	s.jsonMode = jsonMode
	return s.reply, s.err
}

func TestStatePatcher(t *testing.T) {
	stub := &stubCompleter{reply: "```json\n{\"tasks\": [{\"id\": 1, \"name\": \"testing\", \"status\": \"todo\"}], \"risks\": [], \"milestones\": []}\n```"}
	p := NewStatePatcher(stub)

	out, err := p.ProposePlan(context.Background(), model.DefaultPlan(), "add a task for testing")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len(model.KeyTasks))
	assert.True(t, stub.jsonMode)
	require.Len(t, stub.messages, 2)
	assert.Contains(t, stub.messages[1].Content, `"tasks":[]`)
	assert.Contains(t, stub.messages[1].Content, "add a task for testing")

	stub.reply = "Sorry, I can't do that."
	_, err = p.ProposePlan(context.Background(), model.DefaultPlan(), "x")
	assert.ErrorIs(t, err, model.ErrInvalidPatch)

	stub.err = model.ErrGenerator
	_, err = p.ProposePlan(context.Background(), model.DefaultPlan(), "x")
	assert.ErrorIs(t, err, model.ErrGenerator)
}

func TestAnalyst(t *testing.T) {
	stub := &stubCompleter{reply: "# Report\n- do things"}
	a := NewAnalyst(stub)

	out, err := a.Analyze(context.Background(), model.DefaultPlan(), "what's next?")
	require.NoError(t, err)
	assert.Equal(t, "# Report\n- do things", out)
	assert.False(t, stub.jsonMode)

	stub.reply = "  \n\t"
	_, err = a.Analyze(context.Background(), model.DefaultPlan(), "q")
	assert.ErrorIs(t, err, model.ErrEmptyAnalysis)

	stub.err = errors.New("boom")
	_, err = a.Analyze(context.Background(), model.DefaultPlan(), "q")
	assert.EqualError(t, err, "boom")
}

func TestMockPatcher(t *testing.T) {
	ctx := context.Background()
	current := model.DefaultPlan()
	current["owner"] = "alice"

	next, err := MockPatcher{}.ProposePlan(ctx, current, "add task write docs")
	require.NoError(t, err)
	tasks := next[model.KeyTasks].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, map[string]any{"id": 1, "name": "Write docs", "status": "todo"}, tasks[0])
	assert.Equal(t, "alice", next["owner"])
	// 输入不被修改
	assert.Equal(t, 0, current.Len(model.KeyTasks))

	// 同名任务不重复
	next, err = MockPatcher{}.ProposePlan(ctx, next, "New task write docs")
	require.NoError(t, err)
	assert.Equal(t, 1, next.Len(model.KeyTasks))

	// 模拟存储往返后 id 为 json.Number
	stored, err := next.Clone()
	require.NoError(t, err)
	next, err = MockPatcher{}.ProposePlan(ctx, stored, "update task 1 status to done")
	require.NoError(t, err)
	assert.Equal(t, "done", next[model.KeyTasks].([]any)[0].(map[string]any)["status"])

	next, err = MockPatcher{}.ProposePlan(ctx, next, "update task 1 status to exploded")
	require.NoError(t, err)
	assert.Equal(t, "done", next[model.KeyTasks].([]any)[0].(map[string]any)["status"])

	unchanged, err := MockPatcher{}.ProposePlan(ctx, next, "the weather is nice")
	require.NoError(t, err)
	assert.Equal(t, next, unchanged)
}

func TestMockAnalyst(t *testing.T) {
	plan := model.Plan{
		model.KeyTasks: []any{
			map[string]any{"id": 1, "name": "Design", "status": "done"},
			map[string]any{"id": 2, "name": "Build", "status": "todo"},
		},
		model.KeyRisks:      []any{"Budget overrun"},
		model.KeyMilestones: []any{},
	}

	out, err := MockAnalyst{}.Analyze(context.Background(), plan, "What are the next steps?")
	require.NoError(t, err)
	assert.Contains(t, out, "which has 2 tasks")
	assert.Contains(t, out, "- Build\n")
	assert.NotContains(t, out, "- Design")

	out, err = MockAnalyst{}.Analyze(context.Background(), plan, "Any risks?")
	require.NoError(t, err)
	assert.Contains(t, out, "- Budget overrun")

	out, err = MockAnalyst{}.Analyze(context.Background(), model.DefaultPlan(), "whats next")
	require.NoError(t, err)
	assert.Contains(t, out, "No outstanding tasks found")
	assert.True(t, strings.HasSuffix(out, "does not reflect actual LLM capabilities.)*"))
}

func TestToInt64(t *testing.T) {
	n, ok := toInt64(json.Number("9007199254740993"))
	assert.True(t, ok)
	assert.Equal(t, int64(9007199254740993), n)

	_, ok = toInt64(json.Number("1.5"))
	assert.False(t, ok)
	_, ok = toInt64(1.5)
	assert.False(t, ok)

	n, ok = toInt64(float64(3))
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
}
