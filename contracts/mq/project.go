package mq

// Routing keys 由 outbox 写入、Dispatcher 发布到 events exchange
const (
	RoutingKeyProjectCreated     = "project.created"
	RoutingKeyProjectPlanUpdated = "project.plan_updated"
)

// ProjectCreatedPayload project.created 事件
type ProjectCreatedPayload struct {
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	Version   int64  `json:"version"`
	TraceID   string `json:"trace_id,omitempty"`
}

// PlanUpdatedPayload project.plan_updated 事件
// 只携带计数而不是整个 plan，消费方需要时自行 GET /project/:id
type PlanUpdatedPayload struct {
	ProjectID      int64  `json:"project_id"`
	Version        int64  `json:"version"`
	TaskCount      int    `json:"task_count"`
	RiskCount      int    `json:"risk_count"`
	MilestoneCount int    `json:"milestone_count"`
	TraceID        string `json:"trace_id,omitempty"`
}
