// Package jsonx 基于 sonic 的 JSON 工具函数
package jsonx

import (
	"github.com/bytedance/sonic"
)

// sorted 以排序后的 key 输出，保证相同的值总是得到相同的字节
var sorted = sonic.Config{
	SortMapKeys:      true,
	EscapeHTML:       false,
	CompactMarshaler: true,
	ValidateString:   true,
}.Froze()

// Marshal 将对象序列化为JSON字节数组
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalString 将对象序列化为JSON字符串
func MarshalString(v any) (string, error) {
	return sonic.MarshalString(v)
}

// MarshalIndent 带缩进输出，CLI 打印结果用
func MarshalIndent(v any) ([]byte, error) {
	return sonic.ConfigDefault.MarshalIndent(v, "", "  ")
}

// MarshalSorted 以确定性顺序序列化（map key 排序）
func MarshalSorted(v any) ([]byte, error) {
	return sorted.Marshal(v)
}

// Stringify 把任意值转成确定性的 JSON 文本，字符串原样返回
func Stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	out, err := sorted.MarshalToString(v)
	if err != nil {
		return ""
	}
	return out
}

// Unmarshal 将JSON字节数组解析到指定对象
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// UnmarshalString 将JSON字符串解析到指定对象
func UnmarshalString(s string, v any) error {
	return sonic.UnmarshalString(s, v)
}

// Decode 解析任意 JSON 文档，非法 JSON 返回 ok=false
func Decode(data []byte) (any, bool) {
	if len(data) == 0 || !sonic.Valid(data) {
		return nil, false
	}
	var v any
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return v, true
}

// FromJSONBytes 将JSON字节数组转换为对象
func FromJSONBytes[T any](data []byte) (T, error) {
	var v T
	err := sonic.Unmarshal(data, &v)
	return v, err
}

// Valid 验证是否为有效的JSON
func Valid(data []byte) bool {
	return sonic.Valid(data)
}
