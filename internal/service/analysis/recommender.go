// Package analysis answers questions about a project plan without modifying it.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/model"
	"github.com/zirpo/pm-backend/internal/service"
	"github.com/zirpo/pm-backend/pkg/logger"
	"github.com/zirpo/pm-backend/pkg/metrics"
)

// PlanReader 只读存储接口，Recommender 无法写入
type PlanReader interface {
	Load(ctx context.Context, id int64) (*model.Project, error)
}

// AnalysisGenerator 根据 plan 回答问题，返回 markdown
type AnalysisGenerator interface {
	Analyze(ctx context.Context, current model.Plan, question string) (string, error)
}

type Recommender struct {
	reader  PlanReader
	gen     AnalysisGenerator
	timeout time.Duration
	logger  *zap.Logger
}

func NewRecommender(reader PlanReader, gen AnalysisGenerator, timeout time.Duration, logger *zap.Logger) *Recommender {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recommender{reader: reader, gen: gen, timeout: timeout, logger: logger}
}

// Recommend returns the generator's markdown answer verbatim.
func (r *Recommender) Recommend(ctx context.Context, projectID int64, question string) (string, error) {
	return r.analyze(ctx, "plain", projectID, question)
}

func (r *Recommender) analyze(ctx context.Context, mode string, projectID int64, question string) (string, error) {
	log := logger.WithTrace(ctx, r.logger).With(zap.Int64("project_id", projectID), zap.String("mode", mode))

	project, err := r.reader.Load(ctx, projectID)
	if err != nil {
		metrics.IncrementRecommendation(mode, outcomeOf(err))
		return "", err
	}

	out, err := service.CallGenerator(ctx, r.timeout, func(ctx context.Context) (string, error) {
		return r.gen.Analyze(ctx, project.Plan, question)
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = model.ErrEmptyAnalysis
	}
	metrics.IncrementRecommendation(mode, outcomeOf(err))
	if err != nil {
		log.Warn("Recommendation failed", zap.Error(err))
		return "", err
	}

	log.Info("Recommendation generated", zap.Int("length", len(out)))
	return out, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrGeneratorTimeout):
		return "timeout"
	case errors.Is(err, model.ErrEmptyAnalysis):
		return "empty"
	case errors.Is(err, model.ErrGenerator):
		return "generator_error"
	default:
		return "error"
	}
}
