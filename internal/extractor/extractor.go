// Package extractor 实现受限的 JSON 路径提取：$.key.key.0
// 只支持对象键和数组下标，不支持通配符、过滤器和中括号语法。
package extractor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// ErrInvalidPath 路径语法不合法
var ErrInvalidPath = errors.New("invalid extraction path")

// Compile 把 $.a.b.0 编译成 ojg 表达式。
// 纯数字段作为数组下标，其余作为对象键。
func Compile(path string) (jp.Expr, error) {
	if path != "$" && !strings.HasPrefix(path, "$.") {
		return nil, fmt.Errorf("%w %q: must start with \"$.\"", ErrInvalidPath, path)
	}

	expr := jp.R()
	if path == "$" {
		return expr, nil
	}

	for _, seg := range strings.Split(path[2:], ".") {
		if seg == "" {
			return nil, fmt.Errorf("%w %q: empty segment", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, "*[]()?@$'\"") {
			return nil, fmt.Errorf("%w %q: unsupported segment %q", ErrInvalidPath, path, seg)
		}
		if isIndex(seg) {
			n, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, path, err)
			}
			expr = expr.N(n)
			continue
		}
		expr = expr.C(seg)
	}
	return expr, nil
}

// Extract 读取 data 中 path 指向的值。路径非法或任一中间值缺失时返回 false。
// data 通常是 JSON 解码后的 map[string]any / []any。
func Extract(path string, data any) (any, bool) {
	expr, err := Compile(path)
	if err != nil {
		return nil, false
	}
	return Get(expr, data)
}

// Get 用已编译的表达式读取
func Get(expr jp.Expr, data any) (any, bool) {
	if data == nil {
		return nil, false
	}
	results := expr.Get(data)
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

func isIndex(seg string) bool {
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
