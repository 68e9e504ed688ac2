// Package assertion 校验 HTTP 响应是否满足步骤的 expect 规则。
//
// 规则按固定顺序执行：状态码、JSON 结构、包含文本、不包含文本。
// 第一条失败的规则决定唯一的错误信息，后续规则不再执行。
package assertion

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

// 类型哨兵
const (
	TypeArray   = "@array"
	TypeString  = "@string"
	TypeNumber  = "@number"
	TypeBoolean = "@boolean"
	TypeObject  = "@object"
	TypeNull    = "@null"
	TypeAny     = "@any"
)

// Validate 校验响应，全部通过时返回空字符串。
// parsed 是 JSON 解码后的响应体；响应体不是合法 JSON 时传 nil。
func Validate(expect *types.Expect, statusCode int, body []byte, parsed any) string {
	if expect == nil {
		return ""
	}

	if expect.Status != nil && *expect.Status != statusCode {
		return fmt.Sprintf("Expected status %d, got %d", *expect.Status, statusCode)
	}

	if len(expect.JSON) > 0 {
		if parsed == nil && !jsonx.Valid(body) {
			return "JSON mismatch at root: expected object, got non-JSON body"
		}
		if msg := MatchJSON(map[string]any(expect.JSON), parsed); msg != "" {
			return msg
		}
	}

	text := string(body)
	for _, s := range expect.Contains {
		if !strings.Contains(text, s) {
			return fmt.Sprintf("Response does not contain %q", s)
		}
	}
	for _, s := range expect.NotContains {
		if strings.Contains(text, s) {
			return fmt.Sprintf("Response contains forbidden text %q", s)
		}
	}
	return ""
}

// MatchJSON 递归比较期望结构与实际值。多余的键被忽略，缺失的键视为失败。
func MatchJSON(expected, actual any) string {
	return match("root", expected, actual)
}

func match(path string, expected, actual any) string {
	switch exp := expected.(type) {
	case string:
		if want, ok := sentinel(exp); ok {
			if want == "any" || want == typeName(actual) {
				return ""
			}
			return mismatch(path, "expected %s, got %s", want, typeName(actual))
		}
		if s, ok := actual.(string); !ok || s != exp {
			return mismatch(path, "expected %s, got %s", formatValue(exp), formatValue(actual))
		}
		return ""

	case map[string]any:
		obj, ok := actual.(map[string]any)
		if !ok {
			return mismatch(path, "expected object, got %s", typeName(actual))
		}
		keys := make([]string, 0, len(exp))
		for k := range exp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := path + "." + k
			v, exists := obj[k]
			if !exists {
				return mismatch(child, "missing key")
			}
			if msg := match(child, exp[k], v); msg != "" {
				return msg
			}
		}
		return ""

	case []any:
		arr, ok := actual.([]any)
		if !ok {
			return mismatch(path, "expected array, got %s", typeName(actual))
		}
		if len(arr) != len(exp) {
			return mismatch(path, "expected %d items, got %d", len(exp), len(arr))
		}
		for i := range exp {
			if msg := match(fmt.Sprintf("%s.%d", path, i), exp[i], arr[i]); msg != "" {
				return msg
			}
		}
		return ""

	case nil:
		if actual != nil {
			return mismatch(path, "expected null, got %s", formatValue(actual))
		}
		return ""
	}

	if ef, ok := toFloat(expected); ok {
		af, isNum := toFloat(actual)
		if !isNum || af != ef {
			return mismatch(path, "expected %s, got %s", formatValue(expected), formatValue(actual))
		}
		return ""
	}

	if !reflect.DeepEqual(expected, actual) {
		return mismatch(path, "expected %s, got %s", formatValue(expected), formatValue(actual))
	}
	return ""
}

func mismatch(path, format string, args ...any) string {
	return fmt.Sprintf("JSON mismatch at %s: %s", path, fmt.Sprintf(format, args...))
}

// sentinel 解析 @type 哨兵，返回类型名
func sentinel(s string) (string, bool) {
	switch s {
	case TypeArray, TypeString, TypeNumber, TypeBoolean, TypeObject, TypeNull, TypeAny:
		return s[1:], true
	}
	return "", false
}

// typeName 返回 JSON 值的类型名
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return reflect.TypeOf(v).String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return jsonx.Stringify(v)
}
