// Package plan parses generator output into a plan document and checks that a
// proposed plan is structurally safe to replace the stored one.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zirpo/pm-backend/internal/model"
)

// Parse 解析生成器返回的文本，允许外层包一层 ```json 代码块
func Parse(raw string) (model.Plan, error) {
	body := StripCodeFence(raw)
	if body == "" {
		return nil, model.NewInvalidPatch("generator returned an empty response", raw)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, model.NewInvalidPatch(fmt.Sprintf("response is not valid JSON: %v", err), raw)
	}
	if dec.More() {
		return nil, model.NewInvalidPatch("response contains trailing data after the JSON document", raw)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, model.NewInvalidPatch(fmt.Sprintf("response must be a JSON object, got %s", kindOf(v)), raw)
	}
	return model.Plan(obj), nil
}

// StripCodeFence 去掉 markdown 代码块包装
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// 去掉语言标记（```json）
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Validate 检查 candidate 能否整体替换 current。
// candidate 先经过一次 JSON 编解码归一化，返回的就是要写入的文档。
func Validate(current, candidate model.Plan) (model.Plan, error) {
	if candidate == nil {
		return nil, model.NewInvalidPatch("proposed plan is null", "")
	}

	normalized, err := normalize(candidate)
	if err != nil {
		return nil, model.NewInvalidPatch(fmt.Sprintf("proposed plan is not JSON-encodable: %v", err), "")
	}

	for _, key := range []string{model.KeyTasks, model.KeyRisks, model.KeyMilestones} {
		if _, ok := normalized[key]; !ok {
			return nil, model.NewInvalidPatch(fmt.Sprintf("missing required key %q", key), "")
		}
	}

	if err := checkItems(normalized, model.KeyTasks, "object"); err != nil {
		return nil, err
	}
	if err := checkItems(normalized, model.KeyMilestones, "object"); err != nil {
		return nil, err
	}
	if err := checkItems(normalized, model.KeyRisks, "string", "object"); err != nil {
		return nil, err
	}

	// 当前 plan 中已有的顶层 key 不能丢，也不能改变类型
	for key, old := range current {
		v, ok := normalized[key]
		if !ok {
			return nil, model.NewInvalidPatch(fmt.Sprintf("proposed plan drops existing key %q", key), "")
		}
		oldKind := kindOf(old)
		if oldKind == "null" {
			continue
		}
		if newKind := kindOf(v); newKind != oldKind {
			return nil, model.NewInvalidPatch(fmt.Sprintf("key %q changed type from %s to %s", key, oldKind, newKind), "")
		}
	}

	return normalized, nil
}

func checkItems(p model.Plan, key string, allowed ...string) error {
	items, ok := p[key].([]any)
	if !ok {
		return model.NewInvalidPatch(fmt.Sprintf("%q must be an array, got %s", key, kindOf(p[key])), "")
	}
	for i, item := range items {
		k := kindOf(item)
		match := false
		for _, a := range allowed {
			if k == a {
				match = true
				break
			}
		}
		if !match {
			return model.NewInvalidPatch(fmt.Sprintf("%s[%d] must be %s, got %s", key, i, strings.Join(allowed, " or "), k), "")
		}
	}
	return nil
}

func normalize(p model.Plan) (model.Plan, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return model.DecodePlan(raw)
}

// kindOf 返回 JSON 值的类型名
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any, model.Plan:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
