package plan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zirpo/pm-backend/internal/model"
)

func TestParse(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		p, err := Parse(`{"tasks": [], "risks": [], "milestones": []}`)
		require.NoError(t, err)
		assert.Equal(t, []any{}, p["tasks"])
	})

	t.Run("large integers keep precision", func(t *testing.T) {
		p, err := Parse(`{"tasks": [{"id": 9007199254740993}], "risks": [], "milestones": []}`)
		require.NoError(t, err)
		assert.Equal(t, json.Number("9007199254740993"), p["tasks"].([]any)[0].(map[string]any)["id"])
	})

	t.Run("fenced", func(t *testing.T) {
		p, err := Parse("```json\n{\"tasks\": [{\"id\": 1}], \"risks\": [], \"milestones\": []}\n```")
		require.NoError(t, err)
		assert.Equal(t, 1, p.Len("tasks"))
	})

	bad := map[string]string{
		"empty":          "   ",
		"not json":       "I could not update the plan",
		"array":          `[1, 2]`,
		"trailing":       `{"tasks": []} {"x": 1}`,
		"truncated":      `{"tasks": [`,
		"bare string":    `"tasks"`,
		"fenced garbage": "```\nnope\n```",
	}
	for name, raw := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrInvalidPatch))
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("  {\"a\":1}  "))
}

func TestValidate(t *testing.T) {
	current := model.Plan{
		"tasks":      []any{map[string]any{"id": json.Number("1"), "name": "a", "status": "todo"}},
		"risks":      []any{"budget"},
		"milestones": []any{},
		"owner":      "alice",
		"notes":      nil,
	}

	valid := model.Plan{
		"tasks": []map[string]any{
			{"id": 1, "name": "a", "status": "done"},
			{"id": 2, "name": "b", "status": "todo"},
		},
		"risks":      []any{"budget", map[string]any{"text": "scope", "level": "high"}},
		"milestones": []any{map[string]any{"id": 1, "name": "MVP", "completed": false}},
		"owner":      "bob",
		"notes":      []any{"free-form"},
		"new_key":    42,
	}

	out, err := Validate(current, valid)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len("tasks"))
	// 归一化后是 JSON 原生类型
	assert.Equal(t, json.Number("2"), out["tasks"].([]any)[1].(map[string]any)["id"])
	assert.Equal(t, json.Number("42"), out["new_key"])

	cases := map[string]model.Plan{
		"nil":                 nil,
		"missing tasks":       {"risks": []any{}, "milestones": []any{}, "owner": "x"},
		"tasks not list":      {"tasks": "not-a-list", "risks": []any{}, "milestones": []any{}, "owner": "x"},
		"task item scalar":    {"tasks": []any{"do it"}, "risks": []any{}, "milestones": []any{}, "owner": "x"},
		"risk item number":    {"tasks": []any{}, "risks": []any{3}, "milestones": []any{}, "owner": "x"},
		"milestone item list": {"tasks": []any{}, "risks": []any{}, "milestones": []any{[]any{}}, "owner": "x"},
		"drops extra key":     {"tasks": []any{}, "risks": []any{}, "milestones": []any{}, "notes": nil},
		"extra key type":      {"tasks": []any{}, "risks": []any{}, "milestones": []any{}, "owner": 7, "notes": nil},
		"unencodable":         {"tasks": []any{}, "risks": []any{}, "milestones": []any{}, "owner": "x", "notes": nil, "ch": make(chan int)},
	}
	for name, candidate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(current, candidate)
			require.Error(t, err)
			var ipe *model.InvalidPatchError
			assert.True(t, errors.As(err, &ipe))
		})
	}
}

func TestValidate_DefaultSkeleton(t *testing.T) {
	out, err := Validate(model.DefaultPlan(), model.DefaultPlan())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPlan(), out)
}
