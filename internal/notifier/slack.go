package notifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yqhp/test-runner/pkg/jsonx"
	"yqhp/test-runner/pkg/types"
)

// SlackConfig Slack incoming webhook 配置
type SlackConfig struct {
	WebhookURL    string        `yaml:"webhook_url" env:"TR_SLACK_WEBHOOK_URL"`
	Channel       string        `yaml:"channel,omitempty"`
	Username      string        `yaml:"username,omitempty"`
	DashboardURL  string        `yaml:"dashboard_url,omitempty" env:"TR_DASHBOARD_URL"`
	OnlyFailures  bool          `yaml:"only_failures"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DefaultSlackConfig returns the default configuration.
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Username:      "test-runner",
		RetryAttempts: 2,
		RetryDelay:    time.Second,
		Timeout:       10 * time.Second,
	}
}

// Slack posts messages to a Slack incoming webhook.
type Slack struct {
	config     *SlackConfig
	httpClient *http.Client
}

// NewSlack creates a Slack notifier.
func NewSlack(config *SlackConfig) (*Slack, error) {
	if config == nil {
		config = DefaultSlackConfig()
	}
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}
	return &Slack{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// New 返回配置对应的通知器：未配置 webhook 时为 Nop
func New(config *SlackConfig) Notifier {
	if config == nil || config.WebhookURL == "" {
		return Nop{}
	}
	s, err := NewSlack(config)
	if err != nil {
		return Nop{}
	}
	return s
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields,omitempty"`
	Text   string       `json:"text,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

const (
	colorPassed = "good"
	colorFailed = "danger"
)

// NotifyRun implements Notifier.
func (s *Slack) NotifyRun(ctx context.Context, summary *types.RunSummary) error {
	if summary.Status == types.RunPassed && s.config.OnlyFailures {
		return nil
	}
	return s.sendWithRetry(ctx, s.runMessage(summary))
}

// NotifyFailure implements Notifier.
func (s *Slack) NotifyFailure(ctx context.Context, project, scenario string, cause error) error {
	msg := &slackMessage{
		Channel:  s.config.Channel,
		Username: s.config.Username,
		Text:     fmt.Sprintf(":x: *%s/%s* could not run", project, scenario),
		Attachments: []slackAttachment{{
			Color: colorFailed,
			Text:  "```" + cause.Error() + "```",
		}},
	}
	return s.sendWithRetry(ctx, msg)
}

func (s *Slack) runMessage(summary *types.RunSummary) *slackMessage {
	icon, color := ":white_check_mark:", colorPassed
	if summary.Status != types.RunPassed {
		icon, color = ":x:", colorFailed
	}
	name := summary.ScenarioName
	if name == "" {
		name = summary.Scenario
	}

	text := fmt.Sprintf("%s *%s* (%s/%s) %s in %s", icon, name, summary.Project, summary.Scenario,
		summary.Status, formatDuration(summary.DurationMs))
	if s.config.DashboardURL != "" {
		text += fmt.Sprintf(" <%s/runs/%s|details>", strings.TrimRight(s.config.DashboardURL, "/"), summary.RunID)
	}

	att := slackAttachment{
		Color: color,
		Fields: []slackField{
			{Title: "Steps", Value: fmt.Sprintf("%d/%d passed", summary.PassedSteps, summary.TotalSteps), Short: true},
			{Title: "Environment", Value: string(summary.Environment), Short: true},
			{Title: "Retries", Value: fmt.Sprintf("%d", summary.RetryCount), Short: true},
			{Title: "Auto-fixed", Value: fmt.Sprintf("%d", summary.AutoFixedCount), Short: true},
			{Title: "Triggered by", Value: string(summary.TriggeredBy), Short: true},
		},
	}
	if len(summary.Failures) > 0 {
		var b strings.Builder
		for _, f := range summary.Failures {
			fmt.Fprintf(&b, "• *%s*: %s\n", f.Name, f.Error)
		}
		att.Text = strings.TrimRight(b.String(), "\n")
	}

	return &slackMessage{
		Channel:     s.config.Channel,
		Username:    s.config.Username,
		Text:        text,
		Attachments: []slackAttachment{att},
	}
}

// sendWithRetry 失败后按线性递增的间隔重试
func (s *Slack) sendWithRetry(ctx context.Context, msg *slackMessage) error {
	var lastErr error
	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.RetryDelay * time.Duration(attempt)):
			}
		}
		err := s.send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed after %d attempts: %w", s.config.RetryAttempts+1, lastErr)
}

func (s *Slack) send(ctx context.Context, msg *slackMessage) error {
	data, err := jsonx.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func formatDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}
