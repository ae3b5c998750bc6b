// Package merge applies free-text updates to a stored project plan.
//
// An update loads the current plan, asks a generator for a complete replacement,
// validates it and commits it with a single versioned save. Any failure before the
// save leaves the stored plan untouched.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/internal/plan"
	"github.com/zirpo/pm-backend/internal/service"
	"github.com/zirpo/pm-backend/pkg/logger"
	"github.com/zirpo/pm-backend/pkg/metrics"
)

// Store 合并引擎需要的存储能力
type Store interface {
	Load(ctx context.Context, id int64) (*model.Project, error)
	Save(ctx context.Context, id int64, plan model.Plan, expectedVersion int64) (*model.Project, error)
}

// PatchGenerator 根据当前 plan 和更新文本给出完整的候选 plan
type PatchGenerator interface {
	ProposePlan(ctx context.Context, current model.Plan, instruction string) (model.Plan, error)
}

type Options struct {
	// GeneratorTimeout 生成器调用上限，默认 60s
	GeneratorTimeout time.Duration
	// CommitTimeout 提交阶段上限，默认 10s
	CommitTimeout time.Duration
}

type Engine struct {
	store  Store
	gen    PatchGenerator
	opts   Options
	logger *zap.Logger
}

func NewEngine(store Store, gen PatchGenerator, opts Options, logger *zap.Logger) *Engine {
	if opts.GeneratorTimeout <= 0 {
		opts.GeneratorTimeout = 60 * time.Second
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, gen: gen, opts: opts, logger: logger}
}

// ApplyUpdate merges updateText into the plan of projectID and returns the saved project.
func (e *Engine) ApplyUpdate(ctx context.Context, projectID int64, updateText string) (*model.Project, error) {
	log := logger.WithTrace(ctx, e.logger).With(zap.Int64("project_id", projectID))
	start := time.Now()

	saved, err := e.applyUpdate(ctx, projectID, updateText)
	outcome := outcomeOf(err)
	metrics.IncrementPlanUpdate(outcome)

	if err != nil {
		fields := []zap.Field{zap.String("outcome", outcome), zap.Duration("took", time.Since(start)), zap.Error(err)}
		var ipe *model.InvalidPatchError
		if errors.As(err, &ipe) && ipe.Raw != "" {
			fields = append(fields, zap.String("raw_output", ipe.Raw))
		}
		if outcome == "error" {
			log.Error("Plan update failed", fields...)
		} else {
			log.Warn("Plan update rejected", fields...)
		}
		return nil, err
	}

	log.Info("Plan updated",
		zap.Int64("version", saved.Version),
		zap.Duration("took", time.Since(start)),
	)
	return saved, nil
}

func (e *Engine) applyUpdate(ctx context.Context, projectID int64, updateText string) (*model.Project, error) {
	current, err := e.store.Load(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// 生成器拿到独立副本，无法通过引用修改 current
	input, err := current.Plan.Clone()
	if err != nil {
		return nil, fmt.Errorf("copy current plan: %w", err)
	}

	candidate, err := service.CallGenerator(ctx, e.opts.GeneratorTimeout, func(ctx context.Context) (model.Plan, error) {
		return e.gen.ProposePlan(ctx, input, updateText)
	})
	if err != nil {
		return nil, err
	}

	next, err := plan.Validate(current.Plan, candidate)
	if err != nil {
		return nil, err
	}

	// 调用方已取消：不提交
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 提交一旦开始就不受调用方取消影响
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.CommitTimeout)
	defer cancel()

	return e.store.Save(commitCtx, projectID, next, current.Version)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidPatch):
		return "invalid_patch"
	case errors.Is(err, model.ErrGeneratorTimeout):
		return "timeout"
	case errors.Is(err, model.ErrGenerator):
		return "generator_error"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
