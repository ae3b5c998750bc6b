package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zirpo/pm-backend/internal/model"
)

// MockPatcher 基于规则的离线生成器（llm.provider=mock）
//
//	"add task <name>" / "new task <name>"  追加一个 todo 任务（同名不重复添加）
//	"update task <id> status to <status>"  修改任务状态
//
// 其他文本原样返回当前 plan。
type MockPatcher struct{}

func (MockPatcher) ProposePlan(_ context.Context, current model.Plan, instruction string) (model.Plan, error) {
	next, err := current.Clone()
	if err != nil {
		return nil, err
	}
	if next == nil {
		next = model.DefaultPlan()
	}
	tasks, _ := next[model.KeyTasks].([]any)
	if tasks == nil {
		tasks = []any{}
	}

	text := strings.TrimSpace(instruction)
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "add task") || strings.Contains(lower, "new task"):
		name := capitalize(strings.TrimSpace(afterMarker(text, "add task", "new task")))
		if name != "" && !hasTaskNamed(tasks, name) {
			tasks = append(tasks, map[string]any{
				"id":     len(tasks) + 1,
				"name":   name,
				"status": model.TaskStatusTodo,
			})
		}
	case strings.HasPrefix(lower, "update task"):
		parts := strings.Fields(text)
		if len(parts) >= 5 {
			if id, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
				setTaskStatus(tasks, id, strings.ToLower(parts[len(parts)-1]))
			}
		}
	}

	next[model.KeyTasks] = tasks
	return next, nil
}

// MockAnalyst 基于规则的离线分析器
type MockAnalyst struct{}

func (MockAnalyst) Analyze(_ context.Context, current model.Plan, question string) (string, error) {
	tasks, _ := current[model.KeyTasks].([]any)

	var b strings.Builder
	fmt.Fprintf(&b, "# Project Analysis for question: '%s'\n\n", question)
	fmt.Fprintf(&b, "Based on your current plan, which has %d tasks.\n", len(tasks))

	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "next steps") || strings.Contains(q, "whats next") || strings.Contains(q, "what's next"):
		var todo []string
		for _, t := range tasks {
			task, ok := t.(map[string]any)
			if !ok || task["status"] != model.TaskStatusTodo {
				continue
			}
			todo = append(todo, fmt.Sprint(task["name"]))
		}
		if len(todo) > 0 {
			b.WriteString("\n**Suggested next steps (TODO tasks):**\n")
			for _, name := range todo {
				fmt.Fprintf(&b, "- %s\n", name)
			}
		} else {
			b.WriteString("\nNo outstanding tasks found. Perhaps you've completed everything!\n")
		}
	case strings.Contains(q, "risks"):
		risks, _ := current[model.KeyRisks].([]any)
		if len(risks) > 0 {
			b.WriteString("\n**Identified Risks:**\n")
			for _, r := range risks {
				fmt.Fprintf(&b, "- %v\n", r)
			}
		} else {
			b.WriteString("\nNo specific risks are currently documented.\n")
		}
	}

	b.WriteString("\n*(This is a mock recommendation and does not reflect actual LLM capabilities.)*")
	return b.String(), nil
}

// afterMarker 返回第一个出现的标记之后的文本（大小写不敏感）
func afterMarker(text string, markers ...string) string {
	lower := strings.ToLower(text)
	best := -1
	bestLen := 0
	for _, m := range markers {
		if i := strings.Index(lower, m); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(m)
		}
	}
	if best < 0 || best+bestLen > len(text) {
		return ""
	}
	return text[best+bestLen:]
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func hasTaskNamed(tasks []any, name string) bool {
	for _, t := range tasks {
		if task, ok := t.(map[string]any); ok && task["name"] == name {
			return true
		}
	}
	return false
}

func setTaskStatus(tasks []any, id int64, status string) {
	switch status {
	case model.TaskStatusTodo, model.TaskStatusInProgress, model.TaskStatusDone:
	default:
		return
	}
	for _, t := range tasks {
		task, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := toInt64(task["id"]); ok && n == id {
			task["status"] = status
			return
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), n == float64(int64(n))
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
