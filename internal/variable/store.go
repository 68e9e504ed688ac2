// Package variable 提供单次运行内的变量存储与 {{name}} 模板替换。
package variable

import (
	"sort"
	"sync"
)

// Lookup 按名称读取变量
type Lookup interface {
	Lookup(name string) (any, bool)
}

// Bindings 是 Lookup 的 map 实现，适合一次性的替换
type Bindings map[string]any

// Lookup implements Lookup.
func (b Bindings) Lookup(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

// Store 单次运行的变量存储。
// 每次运行创建一个新的 Store，不在运行之间共享。写入为最后写入者胜出。
type Store struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewStore 创建空的变量存储
func NewStore() *Store {
	return &Store{vars: make(map[string]any)}
}

// Seed 用场景变量初始化，直接覆盖同名变量
func (s *Store) Seed(vars map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range vars {
		s.vars[k] = v
	}
}

// Set 写入变量
func (s *Store) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// Get 读取变量
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Lookup implements Lookup.
func (s *Store) Lookup(name string) (any, bool) {
	return s.Get(name)
}

// Len 返回变量数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

// Names 返回排序后的变量名
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot 返回当前变量的浅拷贝
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Restore 用快照替换全部变量
func (s *Store) Restore(snapshot map[string]any) {
	vars := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		vars[k] = v
	}
	s.mu.Lock()
	s.vars = vars
	s.mu.Unlock()
}
