package adapter

import (
	"fmt"
	"sort"
	"sync"
)

// NotFoundError 步骤类型没有注册适配器
type NotFoundError struct {
	Type string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no adapter registered for step type: %s", e.Type)
}

// Registry 管理适配器工厂的注册和查找，按步骤类型分派。
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry 创建一个空的注册表。
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry 返回注册了 http 和 reno 适配器的注册表。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(TypeHTTP, NewHTTPAdapter)
	r.MustRegister(TypeReno, NewRenoAdapter)
	return r
}

// Register 为给定类型注册工厂。
// 如果该类型已注册，则返回错误。
func (r *Registry) Register(stepType string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("不能注册空工厂")
	}
	if stepType == "" {
		return fmt.Errorf("步骤类型不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[stepType]; exists {
		return fmt.Errorf("步骤类型已注册: %s", stepType)
	}
	r.factories[stepType] = factory
	return nil
}

// MustRegister 注册工厂，如果出错则 panic。
func (r *Registry) MustRegister(stepType string, factory Factory) {
	if err := r.Register(stepType, factory); err != nil {
		panic(err)
	}
}

// Get 按类型获取工厂，不存在时返回 nil。
func (r *Registry) Get(stepType string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[stepType]
}

// GetOrError 按类型获取工厂，如果不存在则返回 *NotFoundError。
func (r *Registry) GetOrError(stepType string) (Factory, error) {
	factory := r.Get(stepType)
	if factory == nil {
		return nil, &NotFoundError{Type: stepType}
	}
	return factory, nil
}

// Has 检查给定类型是否已注册。
func (r *Registry) Has(stepType string) bool {
	return r.Get(stepType) != nil
}

// Types 返回所有已注册的类型（已排序）。
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Set 是单次运行内已创建的适配器集合，同一类型只创建一次。
type Set struct {
	registry *Registry
	env      *Env
	built    map[string]Adapter
}

// NewSet 创建运行级适配器集合
func NewSet(registry *Registry, env *Env) *Set {
	return &Set{
		registry: registry,
		env:      env,
		built:    make(map[string]Adapter),
	}
}

// For 返回处理 stepType 的适配器，首次使用时通过工厂创建。
func (s *Set) For(stepType string) (Adapter, error) {
	if a, ok := s.built[stepType]; ok {
		return a, nil
	}
	factory, err := s.registry.GetOrError(stepType)
	if err != nil {
		return nil, err
	}
	a, err := factory(s.env)
	if err != nil {
		return nil, fmt.Errorf("创建适配器 %s 失败: %w", stepType, err)
	}
	s.built[stepType] = a
	return a, nil
}
