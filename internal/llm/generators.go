package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/internal/plan"
)

const patcherSystemPrompt = `You maintain a project plan stored as JSON.
Apply the user's update to the current plan and reply with the COMPLETE updated plan as a single JSON object, nothing else.
Keep every existing entry and every top-level key unless the update explicitly changes or removes it.
The plan has the arrays "tasks" (objects with id, name, status: todo | in-progress | done), "risks" (strings) and "milestones" (objects with id, name, completed).
If the update is ambiguous, choose the most reasonable interpretation.
Example: {"tasks": [{"id": 1, "name": "Task A", "status": "todo"}], "risks": [], "milestones": []}`

const analystSystemPrompt = `You are a project analyst.
Answer the user's question using only the project plan JSON you are given, as a markdown report with headings, bullet points and bold text where useful.
Never propose a modified plan document; give actionable observations instead.
For questions like "what's next?", list the unfinished tasks with their status.`

// StatePatcher 调用 LLM 把自由文本更新合并进 plan
type StatePatcher struct {
	client Completer
}

func NewStatePatcher(client Completer) *StatePatcher {
	return &StatePatcher{client: client}
}

// ProposePlan 返回候选的完整 plan；输出无法解析时返回 *model.InvalidPatchError
func (p *StatePatcher) ProposePlan(ctx context.Context, current model.Plan, instruction string) (model.Plan, error) {
	planJSON, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode current plan: %w", err)
	}

	messages := []Message{
		{Role: "system", Content: patcherSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Current plan:\n%s\n\nUpdate:\n%s\n\nReturn the complete new plan as a JSON object.", planJSON, instruction)},
	}

	raw, err := p.client.Complete(ctx, "propose_plan", messages, true)
	if err != nil {
		return nil, err
	}
	return plan.Parse(raw)
}

// Analyst 调用 LLM 回答关于 plan 的问题，只读
type Analyst struct {
	client Completer
}

func NewAnalyst(client Completer) *Analyst {
	return &Analyst{client: client}
}

// Analyze 返回 markdown 文本；空输出返回 model.ErrEmptyAnalysis
func (a *Analyst) Analyze(ctx context.Context, current model.Plan, question string) (string, error) {
	planJSON, err := json.Marshal(current)
	if err != nil {
		return "", fmt.Errorf("encode current plan: %w", err)
	}

	messages := []Message{
		{Role: "system", Content: analystSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Current plan:\n%s\n\nQuestion:\n%s\n\nAnswer with a detailed markdown report.", planJSON, question)},
	}

	out, err := a.client.Complete(ctx, "analyze", messages, false)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", model.ErrEmptyAnalysis
	}
	return out, nil
}
