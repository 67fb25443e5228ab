package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/pkg/logger"
)

var tracer = otel.Tracer("messaging")

// Producer 事件生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建事件生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream string, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", stream),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishGenerationEvent 发布生成生命周期事件。
// 事件是尽力而为的旁路通知，发布失败只记日志，不影响主流程。
func (p *Producer) PublishGenerationEvent(ctx context.Context, eventType string, gen *entity.Generation) {
	payload := &GenerationEventPayload{
		GenerationID:   gen.ID,
		UserID:         gen.UserID,
		Tier:           string(gen.Tier),
		ProviderKey:    gen.ProviderKey,
		ProviderTaskID: gen.ProviderTaskID,
		Status:         string(gen.Status),
		VideoURL:       gen.VideoURL,
		ErrorMessage:   gen.ErrorMessage,
		Cost:           gen.Cost,
		LengthSeconds:  gen.LengthSeconds,
	}

	msg, err := NewMessage(gen.ID, eventType, gen.UserID, payload)
	if err != nil {
		logger.Error(ctx, "failed to build generation event", err, "generation_id", gen.ID)
		return
	}
	if gen.ProviderKey != "" {
		msg.SetMetadata("provider", gen.ProviderKey)
	}

	if _, err := p.Publish(ctx, StreamGenerationEvents, msg); err != nil {
		logger.Error(ctx, "failed to publish generation event", err,
			"generation_id", gen.ID, "event_type", eventType)
	}
}
