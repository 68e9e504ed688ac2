package variable

import (
	"regexp"
	"strings"

	"github.com/duke-git/lancet/v2/slice"

	"yqhp/test-runner/pkg/jsonx"
)

// pattern 匹配 {{name}}，名称区分大小写且只允许 \w 字符
var pattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Resolve 替换 template 中的 {{name}}。
// 未绑定的变量保持原样，并在第二个返回值中按首次出现顺序返回（去重）。
// 非字符串值以确定性 JSON 文本替换。
func Resolve(template string, bindings Lookup) (string, []string) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	var unresolved []string
	out := pattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[2 : len(match)-2]
		if bindings != nil {
			if v, ok := bindings.Lookup(name); ok {
				return jsonx.Stringify(v)
			}
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) == 0 {
		return out, nil
	}
	return out, slice.Unique(unresolved)
}

// ResolveValue 递归替换 map、切片中的字符串；其它标量原样返回。
// 返回的是新值，不修改输入。
func ResolveValue(v any, bindings Lookup) (any, []string) {
	var unresolved []string
	out := resolveValue(v, bindings, &unresolved)
	if len(unresolved) == 0 {
		return out, nil
	}
	return out, slice.Unique(unresolved)
}

func resolveValue(v any, bindings Lookup, unresolved *[]string) any {
	switch val := v.(type) {
	case string:
		s, names := Resolve(val, bindings)
		*unresolved = append(*unresolved, names...)
		return s
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, bindings, unresolved)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			s, names := Resolve(item, bindings)
			*unresolved = append(*unresolved, names...)
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, bindings, unresolved)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			s, names := Resolve(item, bindings)
			*unresolved = append(*unresolved, names...)
			out[i] = s
		}
		return out
	default:
		return v
	}
}

// ResolveMap 替换 map[string]string 的值（如请求头）
func ResolveMap(m map[string]string, bindings Lookup) (map[string]string, []string) {
	if len(m) == 0 {
		return m, nil
	}
	out, names := ResolveValue(m, bindings)
	return out.(map[string]string), names
}

// References 返回 template 中引用的变量名（去重，按出现顺序）
func References(template string) []string {
	matches := pattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return slice.Unique(names)
}
