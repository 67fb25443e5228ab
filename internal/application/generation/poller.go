package generation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"z-video-ai-api/internal/config"
	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/internal/domain/repository"
	"z-video-ai-api/internal/infrastructure/provider"
	apperrors "z-video-ai-api/pkg/errors"
	"z-video-ai-api/pkg/logger"
	"z-video-ai-api/pkg/metrics"
)

// EventPublisher 生成生命周期事件发布
type EventPublisher interface {
	PublishGenerationEvent(ctx context.Context, eventType string, gen *entity.Generation)
}

// Poller 驱动单条生成记录的远程状态检查。
// 每次调用至多做一次远程查询，终态写入是条件更新，重复轮询幂等。
type Poller struct {
	genRepo  repository.GenerationRepository
	registry *provider.Registry
	caller   providerCaller
	cfg      config.PollerConfig
	events   EventPublisher
	now      func() time.Time
}

func NewPoller(genRepo repository.GenerationRepository, registry *provider.Registry, caller providerCaller, cfg config.PollerConfig, events EventPublisher) *Poller {
	return &Poller{
		genRepo:  genRepo,
		registry: registry,
		caller:   caller,
		cfg:      cfg,
		events:   events,
		now:      time.Now,
	}
}

// Poll 检查一条生成记录的远程进度并推进其状态。
// 终态记录原样返回；处理中的记录做一次远程查询后按结果推进。
func (p *Poller) Poll(ctx context.Context, generationID string) (*entity.Generation, error) {
	ctx, span := tracer.Start(ctx, "generation.Poll")
	defer span.End()
	span.SetAttributes(attribute.String("generation.id", generationID))

	gen, err := p.genRepo.GetByID(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, apperrors.ErrGenerationNotFound
	}
	ctx = logger.WithContext(ctx, logger.GenerationIDKey, gen.ID)

	if gen.Status.Terminal() {
		return gen, nil
	}
	if gen.ProviderTaskID == "" {
		// 尚未派发成功，没有可查询的远程任务
		return gen, nil
	}

	desc, ok := p.registry.Get(gen.ProviderKey)
	if !ok {
		return p.finalizeFailed(ctx, gen, "provider no longer configured")
	}
	cred, ok := p.registry.Credentials(gen.ProviderKey)
	if !ok {
		return p.finalizeFailed(ctx, gen, "provider credentials missing")
	}

	gen.PollAttempts++
	if gen.PollAttempts > p.cfg.MaxAttempts {
		metrics.PollTotal.WithLabelValues(gen.ProviderKey, "timeout").Inc()
		return p.finalizeFailed(ctx, gen, "generation timed out after maximum poll attempts")
	}

	status, body, err := p.caller.FetchStatus(ctx, desc, cred, gen.ProviderTaskID)
	if err != nil || status >= 400 {
		// 查询失败不终止任务：计入一次尝试，下次轮询再试
		metrics.PollTotal.WithLabelValues(gen.ProviderKey, "error").Inc()
		if err != nil {
			logger.Warn(ctx, "poll request failed", "provider", gen.ProviderKey, "error", err.Error())
		} else {
			logger.Warn(ctx, "poll request rejected",
				"provider", gen.ProviderKey, "status", status, "body", provider.TruncateBody(body, 512))
		}
		return gen, p.genRepo.UpdatePollProgress(ctx, gen.ID, gen.PollAttempts, gen.EmptyURLPolls)
	}

	switch desc.ClassifyStatus(body) {
	case provider.RemoteStateFailed:
		metrics.PollTotal.WithLabelValues(gen.ProviderKey, "failed").Inc()
		reason := desc.ExtractError(body)
		if reason == "" {
			reason = "generation failed at provider"
		}
		return p.finalizeFailed(ctx, gen, reason)

	case provider.RemoteStateCompleted:
		url := desc.ExtractResultURL(body)
		if url == "" {
			// 远程声称完成但还拿不到 URL，容忍有限次后判失败
			gen.EmptyURLPolls++
			if gen.EmptyURLPolls > p.cfg.MaxEmptyURLRetries {
				metrics.PollTotal.WithLabelValues(gen.ProviderKey, "empty_url").Inc()
				return p.finalizeFailed(ctx, gen, "generation completed without a video url")
			}
			metrics.PollTotal.WithLabelValues(gen.ProviderKey, "pending_url").Inc()
			return gen, p.genRepo.UpdatePollProgress(ctx, gen.ID, gen.PollAttempts, gen.EmptyURLPolls)
		}
		return p.finalizeCompleted(ctx, gen, url)

	default:
		metrics.PollTotal.WithLabelValues(gen.ProviderKey, "processing").Inc()
		return gen, p.genRepo.UpdatePollProgress(ctx, gen.ID, gen.PollAttempts, gen.EmptyURLPolls)
	}
}

func (p *Poller) finalizeCompleted(ctx context.Context, gen *entity.Generation, url string) (*entity.Generation, error) {
	gen.Complete(url)
	applied, err := p.genRepo.FinalizeIfProcessing(ctx, gen)
	if err != nil {
		return nil, err
	}
	if !applied {
		// 另一个轮询已先行定稿，读回落库结果
		return p.genRepo.GetByID(ctx, gen.ID)
	}

	metrics.PollTotal.WithLabelValues(gen.ProviderKey, "completed").Inc()
	metrics.GenerationTotal.WithLabelValues(gen.ProviderKey, string(gen.Status)).Inc()
	if gen.StartedAt != nil {
		metrics.GenerationDuration.WithLabelValues(gen.ProviderKey).Observe(p.now().Sub(*gen.StartedAt).Seconds())
	}
	logger.Info(ctx, "generation completed", "provider", gen.ProviderKey, "video_url", url)
	if p.events != nil {
		p.events.PublishGenerationEvent(ctx, "generation.completed", gen)
	}
	return gen, nil
}

func (p *Poller) finalizeFailed(ctx context.Context, gen *entity.Generation, reason string) (*entity.Generation, error) {
	gen.Fail(reason)
	applied, err := p.genRepo.FinalizeIfProcessing(ctx, gen)
	if err != nil {
		return nil, err
	}
	if !applied {
		return p.genRepo.GetByID(ctx, gen.ID)
	}

	metrics.GenerationTotal.WithLabelValues(gen.ProviderKey, string(gen.Status)).Inc()
	logger.Warn(ctx, "generation failed", "provider", gen.ProviderKey, "reason", reason)
	if p.events != nil {
		p.events.PublishGenerationEvent(ctx, "generation.failed", gen)
	}
	return gen, nil
}

// Progress 按轮询次数与预估时长给出粗略进度百分比，终态恒为 100
func Progress(gen *entity.Generation, estimated time.Duration, now time.Time) int {
	if gen.Status.Terminal() {
		return 100
	}
	if gen.StartedAt == nil || estimated <= 0 {
		return 0
	}
	pct := int(float64(now.Sub(*gen.StartedAt)) / float64(estimated) * 100)
	if pct > 95 {
		pct = 95
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
