// Package messaging 提供基于 Redis Stream 的事件发布
package messaging

import (
	"encoding/json"
	"time"
)

// 生成生命周期事件类型
const (
	EventGenerationCreated   = "generation.created"
	EventGenerationCompleted = "generation.completed"
	EventGenerationFailed    = "generation.failed"
	EventGenerationCancelled = "generation.cancelled"
)

// StreamGenerationEvents 生成生命周期事件流
const StreamGenerationEvents = "generation_events"

// Message 事件消息结构
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 创建新消息
func NewMessage(id, msgType, userID string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Type:      msgType,
		UserID:    userID,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// GenerationEventPayload 生成事件载荷
type GenerationEventPayload struct {
	GenerationID   string  `json:"generation_id"`
	UserID         string  `json:"user_id"`
	Tier           string  `json:"tier"`
	ProviderKey    string  `json:"provider_key,omitempty"`
	ProviderTaskID string  `json:"provider_task_id,omitempty"`
	Status         string  `json:"status"`
	VideoURL       string  `json:"video_url,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	Cost           float64 `json:"cost,omitempty"`
	LengthSeconds  int     `json:"length_seconds"`
}
