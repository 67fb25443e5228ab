package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"z-video-ai-api/internal/config"
	"z-video-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("infrastructure.provider")

// maxResponseBody 读取远程响应体的上限
const maxResponseBody = 1 << 20

// HTTPClient 封装对供应商 API 的出站调用
type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// CreateTask 提交任务创建请求，返回 HTTP 状态码与原始响应体。
// 仅传输层失败返回非空 error，业务层状态码由调用方解释。
func (c *HTTPClient) CreateTask(ctx context.Context, desc Descriptor, cred config.ProviderConfig, prompt string, lengthSeconds int) (int, []byte, error) {
	payload, err := desc.BuildRequest(prompt, lengthSeconds)
	if err != nil {
		return 0, nil, err
	}

	ctx, span := tracer.Start(ctx, "provider.CreateTask")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.key", desc.Key()),
		attribute.Int("video.length_seconds", lengthSeconds),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.CreateEndpoint(cred.BaseURL), bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build create request for %s: %w", desc.Key(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	desc.ApplyAuth(req, cred.APIKey)

	status, body, err := c.do(ctx, req, cred.Timeout, desc.Key(), "create")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create task failed")
		return 0, nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	return status, body, nil
}

// FetchStatus 查询远程任务状态，返回 HTTP 状态码与原始响应体
func (c *HTTPClient) FetchStatus(ctx context.Context, desc Descriptor, cred config.ProviderConfig, taskID string) (int, []byte, error) {
	ctx, span := tracer.Start(ctx, "provider.FetchStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.key", desc.Key()),
		attribute.String("provider.task_id", taskID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.StatusEndpoint(cred.BaseURL, taskID), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build status request for %s: %w", desc.Key(), err)
	}
	desc.ApplyAuth(req, cred.APIKey)

	status, body, err := c.do(ctx, req, cred.Timeout, desc.Key(), "poll")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch status failed")
		return 0, nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	return status, body, nil
}

func (c *HTTPClient) do(ctx context.Context, req *http.Request, timeout time.Duration, providerKey, operation string) (int, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ProviderCallDuration.WithLabelValues(providerKey, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, fmt.Errorf("call %s %s: %w", providerKey, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s %s response: %w", providerKey, operation, err)
	}
	return resp.StatusCode, body, nil
}

// TruncateBody 截断响应体用于日志与错误详情
func TruncateBody(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
