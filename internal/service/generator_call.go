package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zirpo/pm-backend/internal/model"
)

// CallGenerator 在独立 goroutine 中调用生成器，最多等待 timeout。
//
// 超时返回 model.ErrGeneratorTimeout；调用方 ctx 先结束时返回 ctx.Err()；
// 其他错误若尚未归类（InvalidPatch / EmptyAnalysis / Generator），包装为 model.ErrGenerator。
// 超时后生成器 goroutine 的 ctx 已被取消，其结果被丢弃。
func CallGenerator[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.val, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, model.ErrGeneratorTimeout
		}
		if errors.Is(r.err, model.ErrInvalidPatch) ||
			errors.Is(r.err, model.ErrEmptyAnalysis) ||
			errors.Is(r.err, model.ErrGenerator) {
			return zero, r.err
		}
		return zero, fmt.Errorf("%w: %w", model.ErrGenerator, r.err)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, model.ErrGeneratorTimeout
	}
}
