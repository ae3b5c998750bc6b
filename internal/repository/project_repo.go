package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	contractsmq "github.com/zirpo/pm-backend/contracts/mq"
	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/pkg/metrics"
	"github.com/zirpo/pm-backend/pkg/otel"
	"github.com/zirpo/pm-backend/pkg/outbox"
	"github.com/zirpo/pm-backend/pkg/trace"
)

const aggregateProject = "project"

// Schema 业务表结构
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         BIGSERIAL PRIMARY KEY,
	name       VARCHAR(255) NOT NULL,
	plan       JSONB        NOT NULL,
	version    BIGINT       NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS project_documents (
	id           UUID PRIMARY KEY,
	project_id   BIGINT      NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	file_name    TEXT        NOT NULL,
	content_type TEXT        NOT NULL,
	content      TEXT        NOT NULL,
	size_bytes   BIGINT      NOT NULL,
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_project_documents_project
	ON project_documents (project_id, uploaded_at);
`

// Migrate 执行幂等的建表语句
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create project tables: %w", err)
	}
	if _, err := db.Exec(ctx, outbox.Schema); err != nil {
		return fmt.Errorf("failed to create outbox table: %w", err)
	}
	return nil
}

// withDB 为一次查询添加 span 并记录耗时
func withDB(ctx context.Context, operation, table, query string, fn func(context.Context) error) error {
	start := time.Now()
	err := otel.WithDBSpan(ctx, operation, query, fn)
	metrics.RecordDBQueryDuration(operation, table, time.Since(start))
	return err
}

type ProjectRepository struct {
	db *pgxpool.Pool
	// 为 true 时在同一事务中写入 outbox 事件
	outboxEnabled bool
}

func NewProjectRepository(db *pgxpool.Pool, outboxEnabled bool) *ProjectRepository {
	return &ProjectRepository{db: db, outboxEnabled: outboxEnabled}
}

// Create inserts a project with the default plan skeleton.
func (r *ProjectRepository) Create(ctx context.Context, name string) (*model.Project, error) {
	query := `
        INSERT INTO projects (name, plan)
        VALUES ($1, $2)
        RETURNING id, version, created_at, updated_at
    `
	p := &model.Project{Name: name, Plan: model.DefaultPlan()}
	raw, err := json.Marshal(p.Plan)
	if err != nil {
		return nil, err
	}

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		err := withDB(ctx, "insert", "projects", query, func(ctx context.Context) error {
			return tx.QueryRow(ctx, query, name, raw).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
		})
		if err != nil {
			return err
		}
		if !r.outboxEnabled {
			return nil
		}
		return outbox.InsertEventInTx(ctx, tx, aggregateProject, &p.ID, contractsmq.RoutingKeyProjectCreated,
			contractsmq.ProjectCreatedPayload{
				ProjectID: p.ID,
				Name:      p.Name,
				Version:   p.Version,
				TraceID:   trace.FromContext(ctx),
			})
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// Load returns a project by id. The plan is freshly decoded on every call.
func (r *ProjectRepository) Load(ctx context.Context, id int64) (*model.Project, error) {
	query := `
        SELECT id, name, plan, version, created_at, updated_at
        FROM projects
        WHERE id = $1
    `
	var (
		p   model.Project
		raw []byte
	)
	err := withDB(ctx, "select", "projects", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &raw, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("load project %d: %w", id, err)
	}
	if p.Plan, err = model.DecodePlan(raw); err != nil {
		return nil, fmt.Errorf("decode plan of project %d: %w", id, err)
	}
	return &p, nil
}

// Save replaces the whole plan in a single UPDATE guarded by the version column.
func (r *ProjectRepository) Save(ctx context.Context, id int64, plan model.Plan, expectedVersion int64) (*model.Project, error) {
	query := `
        UPDATE projects
        SET plan = $1, version = version + 1, updated_at = NOW()
        WHERE id = $2 AND version = $3
        RETURNING name, version, created_at, updated_at
    `
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}

	p := &model.Project{ID: id}
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		err := withDB(ctx, "update", "projects", query, func(ctx context.Context) error {
			return tx.QueryRow(ctx, query, raw, id, expectedVersion).Scan(&p.Name, &p.Version, &p.CreatedAt, &p.UpdatedAt)
		})
		if errors.Is(err, pgx.ErrNoRows) {
			// 区分行不存在与版本冲突
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return model.ErrNotFound
			}
			return model.ErrConflict
		}
		if err != nil {
			return err
		}
		if !r.outboxEnabled {
			return nil
		}
		return outbox.InsertEventInTx(ctx, tx, aggregateProject, &p.ID, contractsmq.RoutingKeyProjectPlanUpdated,
			contractsmq.PlanUpdatedPayload{
				ProjectID:      p.ID,
				Version:        p.Version,
				TaskCount:      plan.Len(model.KeyTasks),
				RiskCount:      plan.Len(model.KeyRisks),
				MilestoneCount: plan.Len(model.KeyMilestones),
				TraceID:        trace.FromContext(ctx),
			})
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("save project %d: %w", id, err)
	}

	// 返回值与存储解耦
	p.Plan, err = plan.Clone()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns id and name of every project ordered by id.
func (r *ProjectRepository) List(ctx context.Context) ([]model.ProjectSummary, error) {
	query := `
        SELECT id, name
        FROM projects
        ORDER BY id ASC
    `
	out := make([]model.ProjectSummary, 0)
	err := withDB(ctx, "select", "projects", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s model.ProjectSummary
			if err := rows.Scan(&s.ID, &s.Name); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

func (r *ProjectRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
