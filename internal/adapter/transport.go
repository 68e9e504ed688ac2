package adapter

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
)

// failureKind 传输失败的分类
type failureKind int

const (
	failureOther failureKind = iota
	failureTimeout
	failureRefused
)

// classify 根据传输错误判断失败原因
func classify(err error) failureKind {
	switch {
	case err == nil:
		return failureOther
	case errors.Is(err, fasthttp.ErrTimeout),
		errors.Is(err, fasthttp.ErrDialTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return failureTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return failureRefused
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureTimeout
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return failureRefused
	}
	return failureOther
}

// do 在 timeout 内执行请求，按配置跟随重定向
func (e *Env) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	redirect := e.Config.HTTP.Redirect
	if redirect.GetFollow() {
		req.SetTimeout(timeout)
		return e.Client.DoRedirects(req, resp, redirect.GetMaxRedirects())
	}
	return e.Client.DoTimeout(req, resp, timeout)
}
