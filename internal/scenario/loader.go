// Package scenario 从磁盘加载 YAML 场景定义。
//
// 场景文件位于 <root>/<project>/<slug>.yaml（或 .yml）；文件名与 slug 不一致时，
// 会扫描项目目录，匹配 slug 字段相同的文件。每次 Load 都重新读取文件，
// 因此运行之间对 YAML 的修改立即可见。
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"yqhp/test-runner/pkg/logger"
	"yqhp/test-runner/pkg/types"
)

// Loader loads scenarios by project and slug.
type Loader interface {
	Load(ctx context.Context, project, slug string) (*types.Scenario, error)
}

// Entry describes one scenario file of a project.
type Entry struct {
	Project     string            `json:"project"`
	Slug        string            `json:"slug"`
	Name        string            `json:"name,omitempty"`
	Environment types.Environment `json:"environment,omitempty"`
	Schedule    string            `json:"schedule,omitempty"`
	Steps       int               `json:"steps"`
	Path        string            `json:"path"`
	Error       string            `json:"error,omitempty"`
}

// FileLoader loads scenarios from a directory tree.
type FileLoader struct {
	root   string
	parser *Parser
	cache  *cache
	log    *zap.Logger
}

// Option configures a FileLoader.
type Option func(*FileLoader)

// WithCache 启用按 (路径, mtime, size) 缓存解析结果
func WithCache(enabled bool) Option {
	return func(l *FileLoader) {
		if enabled {
			l.cache = newCache()
		} else {
			l.cache = nil
		}
	}
}

// WithStrict 未知的顶层字段报错
func WithStrict(strict bool) Option {
	return func(l *FileLoader) {
		l.parser.Strict = strict
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *FileLoader) {
		l.log = log
	}
}

// NewFileLoader creates a loader rooted at dir.
func NewFileLoader(root string, opts ...Option) *FileLoader {
	l := &FileLoader{
		root:   root,
		parser: &Parser{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logger.OrDefault(l.log).Named("scenario")
	return l
}

// Root returns the directory scenarios are loaded from.
func (l *FileLoader) Root() string {
	return l.root
}

// Load finds and parses the scenario identified by (project, slug).
func (l *FileLoader) Load(ctx context.Context, project, slug string) (*types.Scenario, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(project) || !validName(slug) {
		return nil, &NotFoundError{Project: project, Slug: slug}
	}

	path, err := l.find(project, slug)
	if err != nil {
		return nil, err
	}

	sc, err := l.loadFile(path)
	if err != nil {
		return nil, err
	}
	if sc.Slug == "" {
		sc.Slug = slug
	}
	sc.Project = project
	sc.Source = path

	l.log.Debug("scenario loaded",
		zap.String("project", project),
		zap.String("scenario", slug),
		zap.String("path", path),
		zap.Int("steps", len(sc.Steps)),
	)
	return sc, nil
}

// List enumerates the scenario files of a project. Files that fail to parse
// are still listed with Error set.
func (l *FileLoader) List(ctx context.Context, project string) ([]Entry, error) {
	if !validName(project) {
		return nil, fmt.Errorf("invalid project name: %q", project)
	}
	files, err := l.files(project)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := Entry{Project: project, Path: path, Slug: slugFromFile(path)}
		sc, err := l.loadFile(path)
		if err != nil {
			entry.Error = err.Error()
			entries = append(entries, entry)
			continue
		}
		if sc.Slug != "" {
			entry.Slug = sc.Slug
		}
		entry.Name = sc.Name
		entry.Environment = sc.Environment
		entry.Schedule = sc.Schedule
		entry.Steps = len(sc.Steps)
		entries = append(entries, entry)
	}
	return entries, nil
}

// Projects lists the project directories under the root.
func (l *FileLoader) Projects(ctx context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read scenario root: %w", err)
	}
	var projects []string
	for _, e := range dirEntries {
		if e.IsDir() && validName(e.Name()) {
			projects = append(projects, e.Name())
		}
	}
	return projects, ctx.Err()
}

// find resolves the file of a scenario.
func (l *FileLoader) find(project, slug string) (string, error) {
	dir := filepath.Join(l.root, project)
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, slug+ext)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}

	// 文件名与 slug 不一致时，按 slug 字段扫描
	files, err := l.files(project)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &NotFoundError{Project: project, Slug: slug}
		}
		return "", err
	}
	for _, path := range files {
		if declaredSlug(path) == slug {
			return path, nil
		}
	}
	return "", &NotFoundError{Project: project, Slug: slug}
}

// files returns the YAML files of a project, sorted by name.
func (l *FileLoader) files(project string) ([]string, error) {
	dir := filepath.Join(l.root, project)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range dirEntries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (l *FileLoader) loadFile(path string) (*types.Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ParseError{Path: path, Message: "failed to stat file", Cause: err}
	}
	if l.cache != nil {
		if sc, ok := l.cache.get(path, info); ok {
			return sc, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Message: "failed to read file", Cause: err}
	}
	sc, err := l.parser.Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}

	if l.cache != nil {
		l.cache.put(path, info, sc)
		// 缓存中的实例被多次运行共享，返回副本
		return cloneScenario(sc), nil
	}
	return sc, nil
}

// declaredSlug reads only the slug field of a file.
func declaredSlug(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var head struct {
		Slug string `yaml:"slug"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Slug
}

func slugFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// validName rejects names that could escape the scenario root.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
