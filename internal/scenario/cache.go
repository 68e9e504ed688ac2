package scenario

import (
	"os"
	"sync"
	"time"

	"yqhp/test-runner/pkg/types"
)

type cacheEntry struct {
	modTime  time.Time
	size     int64
	scenario *types.Scenario
}

// cache 按文件路径缓存解析结果，mtime 或 size 变化即失效
type cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newCache() *cache {
	return &cache{entries: make(map[string]cacheEntry)}
}

func (c *cache) get(path string, info os.FileInfo) (*types.Scenario, bool) {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok || !entry.modTime.Equal(info.ModTime()) || entry.size != info.Size() {
		return nil, false
	}
	return cloneScenario(entry.scenario), true
}

func (c *cache) put(path string, info os.FileInfo, sc *types.Scenario) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), scenario: sc}
}

// cloneScenario 复制顶层字段和变量表，步骤本身只读可共享
func cloneScenario(sc *types.Scenario) *types.Scenario {
	out := *sc
	if sc.Variables != nil {
		out.Variables = make(map[string]string, len(sc.Variables))
		for k, v := range sc.Variables {
			out.Variables[k] = v
		}
	}
	out.Steps = append([]types.Step(nil), sc.Steps...)
	return &out
}
