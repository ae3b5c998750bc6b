package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 项目不存在
	ErrNotFound = errors.New("project not found")
	// ErrConflict 保存时版本号已过期，调用方需要重新加载后重试
	ErrConflict = errors.New("project was modified concurrently")
	// ErrInvalidPatch 生成器输出未通过结构校验
	ErrInvalidPatch = errors.New("proposed plan failed validation")
	// ErrGeneratorTimeout 生成器调用超时
	ErrGeneratorTimeout = errors.New("generator call timed out")
	// ErrGenerator 生成器调用失败（网络、上游错误、熔断）
	ErrGenerator = errors.New("generator call failed")
	// ErrEmptyAnalysis 分析结果为空
	ErrEmptyAnalysis = errors.New("generator returned an empty analysis")
)

// InvalidPatchError 携带具体的校验失败原因
type InvalidPatchError struct {
	Reason string
	// Raw 生成器原始输出（截断），便于排查
	Raw string
}

func (e *InvalidPatchError) Error() string {
	return fmt.Sprintf("invalid patch: %s", e.Reason)
}

func (e *InvalidPatchError) Unwrap() error {
	return ErrInvalidPatch
}

// NewInvalidPatch 构造 InvalidPatchError，raw 超过 500 字符时截断
func NewInvalidPatch(reason, raw string) *InvalidPatchError {
	if len(raw) > 500 {
		raw = raw[:500] + "..."
	}
	return &InvalidPatchError{Reason: reason, Raw: raw}
}
