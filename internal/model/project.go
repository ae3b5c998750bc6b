package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Plan 项目计划文档，顶层必须是 JSON object
type Plan map[string]any

// Plan 中三个必需的集合
const (
	KeyTasks      = "tasks"
	KeyRisks      = "risks"
	KeyMilestones = "milestones"
)

// Task status 取值
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in-progress"
	TaskStatusDone       = "done"
)

// DefaultPlan 新项目的空骨架
func DefaultPlan() Plan {
	return Plan{
		KeyTasks:      []any{},
		KeyRisks:      []any{},
		KeyMilestones: []any{},
	}
}

// DecodePlan 解码 JSON 文档。数字保留为 json.Number，超过 2^53 的整数不丢精度
func DecodePlan(raw []byte) (Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out Plan
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone 深拷贝；经过一次 JSON 编解码，结果只包含 JSON 原生类型（数字为 json.Number）
func (p Plan) Clone() (Plan, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return DecodePlan(raw)
}

// Len 返回集合长度，不是数组时返回 0
func (p Plan) Len(key string) int {
	if items, ok := p[key].([]any); ok {
		return len(items)
	}
	return 0
}

// Project 一行 projects 记录
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectSummary 列表接口只返回 id 和 name
type ProjectSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Document 项目附带的参考文档，作为 recommend / review 的上下文
type Document struct {
	ID          string    `json:"id"`
	ProjectID   int64     `json:"project_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"-"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
