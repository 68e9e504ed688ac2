package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/duke-git/lancet/v2/strutil"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/assertion"
	"yqhp/test-runner/internal/extractor"
	"yqhp/test-runner/internal/variable"
	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

const (
	// TypeHTTP 是 HTTP 适配器的类型标识符。
	TypeHTTP = types.StepTypeHTTP

	// 响应体预览的最大字符数
	maxBodyPreview = 64 * 1024
)

// HTTPResponse 是 HTTP 步骤结果中携带的响应信息
type HTTPResponse struct {
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	BodyRaw    string            `json:"body_raw,omitempty"`
	Size       int64             `json:"size"`
	Saved      map[string]any    `json:"saved,omitempty"`
}

// HTTPAdapter 使用 fasthttp 执行 HTTP 步骤。
type HTTPAdapter struct {
	base
}

// NewHTTPAdapter 是 HTTP 适配器的工厂。
func NewHTTPAdapter(env *Env) (Adapter, error) {
	if env.Client == nil {
		return nil, fmt.Errorf("HTTP 客户端未初始化")
	}
	return &HTTPAdapter{base: newBase(TypeHTTP, env)}, nil
}

// ExecuteStep 执行 HTTP 步骤：变量替换、发送请求、提取变量、校验响应。
func (a *HTTPAdapter) ExecuteStep(ctx context.Context, step *types.Step) *types.StepResult {
	spec := step.HTTP()
	if spec == nil {
		return a.wrongSpec(step)
	}

	result := types.NewStepResult(step.Name, step.Type)
	defer result.Finish()

	// 1. 变量替换
	vars := a.env.Vars
	url, unresolved := variable.Resolve(spec.URL, vars)
	a.warnUnresolved(step, "url", unresolved)
	headers, unresolved := variable.ResolveMap(spec.Headers, vars)
	a.warnUnresolved(step, "headers", unresolved)
	body, unresolved := variable.ResolveValue(spec.Body, vars)
	a.warnUnresolved(step, "body", unresolved)

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = fasthttp.MethodGet
	}
	timeout := spec.Timeout.Or(a.env.Config.httpTimeout())

	// 2. 发送请求，任何状态码都算收到响应
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if err := a.buildRequest(req, method, url, headers, body); err != nil {
		return result.Fail(fmt.Sprintf("Request failed: %v", err))
	}

	a.log.Debug("sending request",
		zap.String("step", step.Name),
		zap.String("method", method),
		zap.String("url", url),
	)

	if err := a.env.do(ctx, req, resp, timeout); err != nil {
		switch classify(err) {
		case failureTimeout:
			return result.Fail(fmt.Sprintf("Request timed out after %s", timeout))
		case failureRefused:
			return result.Fail(fmt.Sprintf("Connection refused: %s", url))
		default:
			return result.Fail(fmt.Sprintf("Request failed: %v", err))
		}
	}

	raw := make([]byte, len(resp.Body()))
	copy(raw, resp.Body())
	parsed, isJSON := jsonx.Decode(raw)

	output := &HTTPResponse{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode(),
		Headers:    responseHeaders(resp),
		Size:       int64(len(raw)),
	}
	if isJSON {
		output.Body = parsed
	} else {
		output.BodyRaw = strutil.Substring(string(raw), 0, maxBodyPreview)
	}
	result.Response = output

	// 3. 提取变量，先于断言执行
	if len(spec.Save) > 0 {
		output.Saved = a.save(step, spec.Save, parsed, isJSON)
	}

	// 4. 校验，第一条失败的规则决定错误信息
	if !isJSON {
		parsed = nil
	}
	if msg := assertion.Validate(spec.Expect, resp.StatusCode(), raw, parsed); msg != "" {
		result.Fail(msg)
	}
	return result
}

// buildRequest 构建请求。字符串 body 原样发送，结构化 body 编码为 JSON。
func (a *HTTPAdapter) buildRequest(req *fasthttp.Request, method, url string, headers map[string]string, body any) error {
	req.Header.SetMethod(method)
	req.SetRequestURI(url)

	// 先设置全局 headers，再设置步骤级 headers（覆盖全局）
	for k, v := range a.env.Config.HTTP.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	switch b := body.(type) {
	case nil:
	case string:
		req.SetBodyString(b)
	default:
		data, err := jsonx.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		req.SetBody(data)
		if len(req.Header.ContentType()) == 0 {
			req.Header.SetContentType("application/json")
		}
	}
	return nil
}

// save 执行 save 规则，按变量名排序以保证日志顺序稳定
func (a *HTTPAdapter) save(step *types.Step, rules map[string]string, parsed any, isJSON bool) map[string]any {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	saved := make(map[string]any, len(rules))
	for _, name := range names {
		path := rules[name]
		if !isJSON {
			a.log.Warn("save rule not found: response is not JSON",
				zap.String("step", step.Name), zap.String("variable", name), zap.String("path", path))
			continue
		}
		value, ok := extractor.Extract(path, parsed)
		if !ok {
			a.log.Warn("save rule not found",
				zap.String("step", step.Name), zap.String("variable", name), zap.String("path", path))
			continue
		}
		a.env.Vars.Set(name, value)
		saved[name] = value
		a.log.Debug("variable saved", zap.String("step", step.Name), zap.String("variable", name))
	}
	return saved
}

func responseHeaders(resp *fasthttp.Response) map[string]string {
	headers := make(map[string]string)
	resp.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, exists := headers[k]; !exists {
			headers[k] = string(value)
		}
	})
	return headers
}
