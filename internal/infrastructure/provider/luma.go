package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"z-video-ai-api/internal/domain/entity"
)

const lumaDefaultModel = "ray-2"

// lumaDescriptor Luma Dream Machine API 描述符
type lumaDescriptor struct {
	model string
}

func newLumaDescriptor(model string) *lumaDescriptor {
	if model == "" {
		model = lumaDefaultModel
	}
	return &lumaDescriptor{model: model}
}

func (d *lumaDescriptor) Key() string  { return "luma" }
func (d *lumaDescriptor) Name() string { return "Luma Dream Machine" }

func (d *lumaDescriptor) CostPerSecond() float64 { return 0.04 }

func (d *lumaDescriptor) SupportsTier(tier entity.Tier) bool { return true }

func (d *lumaDescriptor) EstimatedTime(lengthSeconds int) time.Duration {
	return time.Duration(lengthSeconds) * 15 * time.Second
}

func (d *lumaDescriptor) CreateEndpoint(baseURL string) string {
	return baseURL + "/dream-machine/v1/generations"
}

func (d *lumaDescriptor) StatusEndpoint(baseURL, taskID string) string {
	return baseURL + "/dream-machine/v1/generations/" + taskID
}

func (d *lumaDescriptor) ApplyAuth(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (d *lumaDescriptor) BuildRequest(prompt string, lengthSeconds int) ([]byte, error) {
	body := map[string]any{
		"model":      d.model,
		"prompt":     prompt,
		"duration":   fmt.Sprintf("%ds", lengthSeconds),
		"resolution": "720p",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal luma request: %w", err)
	}
	return data, nil
}

type lumaGenerationResponse struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
}

func (d *lumaDescriptor) ExtractTaskID(body []byte) string {
	var resp lumaGenerationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.ID
}

func (d *lumaDescriptor) ClassifyStatus(body []byte) RemoteState {
	var resp lumaGenerationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return RemoteStateProcessing
	}
	// queued/dreaming 视为处理中
	return normalizeState(resp.State)
}

func (d *lumaDescriptor) ExtractResultURL(body []byte) string {
	var resp lumaGenerationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Assets.Video
}

func (d *lumaDescriptor) ExtractError(body []byte) string {
	var resp lumaGenerationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.FailureReason
}
