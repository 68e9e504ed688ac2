package adapter

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"yqhp/test-runner/internal/variable"
	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

// TypeReno 是 AI 评估适配器的类型标识符。
const TypeReno = types.StepTypeReno

// RenoEvaluation 是评估步骤结果中携带的明细
type RenoEvaluation struct {
	Scenario    string   `json:"scenario"`
	Total       int      `json:"total"`
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	PassRate    float64  `json:"pass_rate"`
	Threshold   float64  `json:"threshold"`
	FailedTests []string `json:"failed_tests,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// renoResponse 评估服务的响应体
type renoResponse struct {
	Summary struct {
		Total  int `json:"total"`
		Passed int `json:"passed"`
		Failed int `json:"failed"`
	} `json:"summary"`
	Results []struct {
		TestID      any      `json:"test_id"`
		ID          any      `json:"id"`
		Name        string   `json:"name"`
		Passed      bool     `json:"passed"`
		Suggestions []string `json:"suggestions"`
	} `json:"results"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RenoAdapter 调用远程评估服务执行 reno 步骤。
type RenoAdapter struct {
	base
}

// NewRenoAdapter 是评估适配器的工厂。
func NewRenoAdapter(env *Env) (Adapter, error) {
	if env.Client == nil {
		return nil, fmt.Errorf("HTTP 客户端未初始化")
	}
	return &RenoAdapter{base: newBase(TypeReno, env)}, nil
}

// ExecuteStep 同步调用评估接口，通过率不低于阈值时通过。
func (a *RenoAdapter) ExecuteStep(ctx context.Context, step *types.Step) *types.StepResult {
	spec := step.Reno()
	if spec == nil {
		return a.wrongSpec(step)
	}

	result := types.NewStepResult(step.Name, step.Type)
	defer result.Finish()

	baseURL := a.baseURL(spec)
	if baseURL == "" {
		return result.Fail("Reno base URL is not configured")
	}
	baseURL, unresolved := variable.Resolve(baseURL, a.env.Vars)
	a.warnUnresolved(step, "base_url", unresolved)
	ref, unresolved := variable.Resolve(spec.Scenario, a.env.Vars)
	a.warnUnresolved(step, "scenario", unresolved)

	timeout := spec.Timeout.Or(a.env.Config.renoTimeout())
	endpoint := strings.TrimRight(baseURL, "/") + "/api/evaluate"

	payload, err := jsonx.Marshal(map[string]string{"scenario": ref})
	if err != nil {
		return result.Fail(fmt.Sprintf("Reno request failed: %v", err))
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(endpoint)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	a.log.Info("requesting evaluation",
		zap.String("step", step.Name),
		zap.String("scenario", ref),
		zap.String("endpoint", endpoint),
		zap.Duration("timeout", timeout),
	)

	if err := a.env.do(ctx, req, resp, timeout); err != nil {
		switch classify(err) {
		case failureRefused:
			return result.Fail(fmt.Sprintf("Reno service not available at %s", baseURL))
		case failureTimeout:
			return result.Fail(fmt.Sprintf("Reno evaluation timed out after %s", timeout))
		default:
			return result.Fail(fmt.Sprintf("Reno request failed: %v", err))
		}
	}

	status := resp.StatusCode()
	var body renoResponse
	decodeErr := jsonx.Unmarshal(resp.Body(), &body)

	if status >= fasthttp.StatusBadRequest {
		return result.Fail(fmt.Sprintf("Reno API error (HTTP %d): %s", status, errorText(&body, decodeErr, resp.Body())))
	}
	if decodeErr != nil {
		return result.Fail(fmt.Sprintf("Invalid Reno response: %v", decodeErr))
	}
	if body.Error != "" {
		return result.Fail(fmt.Sprintf("Reno API error (HTTP %d): %s", status, body.Error))
	}

	eval := evaluate(ref, &body, spec.Threshold())
	result.Response = eval

	if eval.PassRate < eval.Threshold {
		return result.Fail(fmt.Sprintf("Pass rate %.1f%% < %s%% threshold (%d/%d passed)",
			eval.PassRate*100, formatPercent(eval.Threshold), eval.Passed, eval.Total))
	}
	return result
}

// baseURL 优先级：步骤 > 场景 reno_config > 全局配置
func (a *RenoAdapter) baseURL(spec *types.RenoSpec) string {
	if spec.BaseURL != "" {
		return spec.BaseURL
	}
	if sc := a.env.Scenario; sc != nil && sc.RenoConfig != nil && sc.RenoConfig.BaseURL != "" {
		return sc.RenoConfig.BaseURL
	}
	return a.env.Config.Reno.BaseURL
}

// evaluate 计算通过率并整理失败用例与建议
func evaluate(ref string, body *renoResponse, threshold float64) *RenoEvaluation {
	eval := &RenoEvaluation{
		Scenario:  ref,
		Total:     body.Summary.Total,
		Passed:    body.Summary.Passed,
		Failed:    body.Summary.Failed,
		Threshold: threshold,
	}
	// total 为 0 时通过率按 0 处理
	if eval.Total > 0 {
		eval.PassRate = float64(eval.Passed) / float64(eval.Total)
	}

	var suggestions []string
	for _, r := range body.Results {
		if !r.Passed {
			eval.FailedTests = append(eval.FailedTests, testID(r.TestID, r.ID, r.Name))
		}
		suggestions = append(suggestions, r.Suggestions...)
	}
	if len(suggestions) > 0 {
		eval.Suggestions = slice.Unique(suggestions)
	}
	return eval
}

func testID(candidates ...any) string {
	for _, c := range candidates {
		switch v := c.(type) {
		case nil:
			continue
		case string:
			if v != "" {
				return v
			}
		default:
			return jsonx.Stringify(v)
		}
	}
	return ""
}

// errorText 提取服务端返回的错误描述
func errorText(body *renoResponse, decodeErr error, raw []byte) string {
	if decodeErr == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty response"
	}
	return text
}

// formatPercent 把 0.6 格式化为 "60"，0.655 格式化为 "65.5"
func formatPercent(ratio float64) string {
	return strconv.FormatFloat(math.Round(ratio*1000)/10, 'f', -1, 64)
}
