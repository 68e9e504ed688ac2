package adapter

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	// DefaultHTTPTimeout HTTP 步骤的默认超时时间
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultRenoTimeout 评估步骤的默认超时时间
	DefaultRenoTimeout = 5 * time.Minute
)

// Config 适配器配置
type Config struct {
	HTTP HTTPConfig `yaml:"http" json:"http"`
	Reno RenoConfig `yaml:"reno" json:"reno"`
}

// HTTPConfig HTTP 客户端配置
type HTTPConfig struct {
	Timeout         time.Duration     `yaml:"timeout" json:"timeout" env:"TR_HTTP_TIMEOUT"`
	Headers         map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"` // 全局请求头，步骤级覆盖
	UserAgent       string            `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	MaxConnsPerHost int               `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	SSL             SSLConfig         `yaml:"ssl,omitempty" json:"ssl,omitempty"`
	Redirect        RedirectConfig    `yaml:"redirect,omitempty" json:"redirect,omitempty"`
}

// RenoConfig 评估服务配置
type RenoConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url" env:"TR_RENO_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TR_RENO_TIMEOUT"`
}

// SSLConfig SSL/TLS 配置
type SSLConfig struct {
	Verify   *bool  `yaml:"verify,omitempty" json:"verify,omitempty"` // 是否验证证书，默认 true
	CertPath string `yaml:"cert,omitempty" json:"cert,omitempty"`     // 客户端证书路径
	KeyPath  string `yaml:"key,omitempty" json:"key,omitempty"`       // 客户端私钥路径
	CAPath   string `yaml:"ca,omitempty" json:"ca,omitempty"`         // CA 证书路径
}

// RedirectConfig 重定向配置
type RedirectConfig struct {
	Follow       *bool `yaml:"follow,omitempty" json:"follow,omitempty"`               // 是否跟随重定向，默认 true
	MaxRedirects *int  `yaml:"max_redirects,omitempty" json:"max_redirects,omitempty"` // 最大重定向次数，默认 10
}

// DefaultConfig 返回默认适配器配置
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:         DefaultHTTPTimeout,
			Headers:         map[string]string{},
			UserAgent:       "test-runner",
			MaxConnsPerHost: 64,
		},
		Reno: RenoConfig{
			Timeout: DefaultRenoTimeout,
		},
	}
}

// GetVerify 获取是否验证证书
func (c *SSLConfig) GetVerify() bool {
	if c.Verify == nil {
		return true
	}
	return *c.Verify
}

// GetFollow 获取是否跟随重定向
func (c *RedirectConfig) GetFollow() bool {
	if c.Follow == nil {
		return true
	}
	return *c.Follow
}

// GetMaxRedirects 获取最大重定向次数
func (c *RedirectConfig) GetMaxRedirects() int {
	if c.MaxRedirects == nil {
		return 10
	}
	return *c.MaxRedirects
}

// BuildTLSConfig 构建 TLS 配置
func (c *SSLConfig) BuildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !c.GetVerify(),
	}

	if c.CertPath != "" && c.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAPath != "" {
		caCert, err := os.ReadFile(c.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

// BuildClient 构建 fasthttp 客户端。每次运行构建一次，不做进程级共享。
func (c *Config) BuildClient() (*fasthttp.Client, error) {
	tlsConfig, err := c.HTTP.SSL.BuildTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("构建 TLS 配置失败: %w", err)
	}
	maxConns := c.HTTP.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 64
	}
	return &fasthttp.Client{
		Name:                   c.HTTP.UserAgent,
		MaxConnsPerHost:        maxConns,
		MaxIdleConnDuration:    30 * time.Second,
		TLSConfig:              tlsConfig,
		DisablePathNormalizing: true,
	}, nil
}

// httpTimeout 返回 HTTP 步骤默认超时
func (c *Config) httpTimeout() time.Duration {
	if c.HTTP.Timeout > 0 {
		return c.HTTP.Timeout
	}
	return DefaultHTTPTimeout
}

// renoTimeout 返回评估步骤默认超时
func (c *Config) renoTimeout() time.Duration {
	if c.Reno.Timeout > 0 {
		return c.Reno.Timeout
	}
	return DefaultRenoTimeout
}
