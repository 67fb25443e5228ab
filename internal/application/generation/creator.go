package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"z-video-ai-api/internal/config"
	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/internal/infrastructure/provider"
	apperrors "z-video-ai-api/pkg/errors"
	"z-video-ai-api/pkg/logger"
	"z-video-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("application.generation")

// DispatchResult 成功派发到某家供应商的结果
type DispatchResult struct {
	ProviderKey   string
	ProviderName  string
	TaskID        string
	Cost          float64
	EstimatedTime time.Duration
}

// providerCaller 供应商出站调用，便于测试替换
type providerCaller interface {
	CreateTask(ctx context.Context, desc provider.Descriptor, cred config.ProviderConfig, prompt string, lengthSeconds int) (int, []byte, error)
	FetchStatus(ctx context.Context, desc provider.Descriptor, cred config.ProviderConfig, taskID string) (int, []byte, error)
}

// Creator 按档位链依次尝试供应商，直到任务创建成功或全链耗尽
type Creator struct {
	registry    *provider.Registry
	caller      providerCaller
	maxAttempts int
	retryPause  time.Duration
	sleep       func(ctx context.Context, d time.Duration)
}

func NewCreator(registry *provider.Registry, caller providerCaller, cfg *config.ProvidersConfig) *Creator {
	maxAttempts := cfg.MaxAttemptsPerProvider
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Creator{
		registry:    registry,
		caller:      caller,
		maxAttempts: maxAttempts,
		retryPause:  cfg.RetryPause,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Dispatch 沿档位链派发任务。
// 每家供应商最多尝试 maxAttempts 次，认证失败与普通 4xx 不重试直接切换；
// 未配置凭证的供应商直接跳过。全链耗尽返回 CodeAllProvidersExhausted。
func (c *Creator) Dispatch(ctx context.Context, tier entity.Tier, prompt string, lengthSeconds int) (*DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "generation.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("user.tier", string(tier)))

	chain := c.registry.ChainFor(tier)
	if len(chain) == 0 {
		metrics.FallbackDepth.WithLabelValues(string(tier), "exhausted").Observe(0)
		return nil, apperrors.ErrAllProvidersExhausted.WithDetail("no providers configured for tier " + string(tier))
	}

	var failures []string
	for depth, desc := range chain {
		cred, ok := c.registry.Credentials(desc.Key())
		if !ok {
			logger.Debug(ctx, "skipping provider without credentials", "provider", desc.Key())
			failures = append(failures, desc.Key()+": no credentials")
			continue
		}

		result, outcome := c.tryProvider(ctx, desc, cred, prompt, lengthSeconds)
		if result != nil {
			metrics.FallbackDepth.WithLabelValues(string(tier), "dispatched").Observe(float64(depth))
			span.SetAttributes(attribute.String("provider.key", desc.Key()))
			return result, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %s", desc.Key(), outcome))

		if ctx.Err() != nil {
			return nil, fmt.Errorf("dispatch aborted: %w", ctx.Err())
		}
	}

	metrics.FallbackDepth.WithLabelValues(string(tier), "exhausted").Observe(float64(len(chain)))
	return nil, apperrors.ErrAllProvidersExhausted.WithDetail(strings.Join(failures, "; "))
}

// tryProvider 在单家供应商上做最多 maxAttempts 次创建尝试
func (c *Creator) tryProvider(ctx context.Context, desc provider.Descriptor, cred config.ProviderConfig, prompt string, lengthSeconds int) (*DispatchResult, attemptOutcome) {
	lastOutcome := outcomeTransport
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.sleep(ctx, c.retryPause)
			if ctx.Err() != nil {
				return nil, lastOutcome
			}
		}

		status, body, err := c.caller.CreateTask(ctx, desc, cred, prompt, lengthSeconds)
		if err != nil {
			lastOutcome = outcomeTransport
			metrics.ProviderAttemptsTotal.WithLabelValues(desc.Key(), string(outcomeTransport)).Inc()
			logger.Warn(ctx, "provider create call failed",
				"provider", desc.Key(), "attempt", attempt, "error", err.Error())
			continue
		}

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			taskID := desc.ExtractTaskID(body)
			if taskID == "" {
				metrics.ProviderAttemptsTotal.WithLabelValues(desc.Key(), string(outcomeNoTaskID)).Inc()
				logger.Warn(ctx, "provider accepted request without task id",
					"provider", desc.Key(), "body", provider.TruncateBody(body, 512))
				return nil, outcomeNoTaskID
			}
			metrics.ProviderAttemptsTotal.WithLabelValues(desc.Key(), string(outcomeSuccess)).Inc()
			logger.Info(ctx, "provider task created",
				"provider", desc.Key(), "task_id", taskID, "attempt", attempt)
			return &DispatchResult{
				ProviderKey:   desc.Key(),
				ProviderName:  desc.Name(),
				TaskID:        taskID,
				Cost:          desc.CostPerSecond() * float64(lengthSeconds),
				EstimatedTime: desc.EstimatedTime(lengthSeconds),
			}, outcomeSuccess
		}

		outcome, retryable := classifyCreateStatus(status)
		lastOutcome = outcome
		metrics.ProviderAttemptsTotal.WithLabelValues(desc.Key(), string(outcome)).Inc()
		logger.Warn(ctx, "provider rejected create request",
			"provider", desc.Key(), "attempt", attempt, "status", status,
			"body", provider.TruncateBody(body, 512))
		if !retryable {
			return nil, outcome
		}
	}
	return nil, lastOutcome
}
