package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"z-video-ai-api/internal/domain/entity"
)

const (
	runwayDefaultModel = "gen4_turbo"
	runwayAPIVersion   = "2024-11-06"
)

// runwayDescriptor Runway 任务式 API 描述符
type runwayDescriptor struct {
	model string
}

func newRunwayDescriptor(model string) *runwayDescriptor {
	if model == "" {
		model = runwayDefaultModel
	}
	return &runwayDescriptor{model: model}
}

func (d *runwayDescriptor) Key() string  { return "runway" }
func (d *runwayDescriptor) Name() string { return "Runway" }

func (d *runwayDescriptor) CostPerSecond() float64 { return 0.10 }

func (d *runwayDescriptor) SupportsTier(tier entity.Tier) bool { return true }

func (d *runwayDescriptor) EstimatedTime(lengthSeconds int) time.Duration {
	return time.Duration(lengthSeconds) * 12 * time.Second
}

func (d *runwayDescriptor) CreateEndpoint(baseURL string) string {
	return baseURL + "/v1/text_to_video"
}

func (d *runwayDescriptor) StatusEndpoint(baseURL, taskID string) string {
	return baseURL + "/v1/tasks/" + taskID
}

func (d *runwayDescriptor) ApplyAuth(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-Runway-Version", runwayAPIVersion)
}

func (d *runwayDescriptor) BuildRequest(prompt string, lengthSeconds int) ([]byte, error) {
	// Runway 仅接受 2 到 10 秒的时长
	if lengthSeconds < 2 {
		lengthSeconds = 2
	}
	if lengthSeconds > 10 {
		lengthSeconds = 10
	}
	body := map[string]any{
		"model":      d.model,
		"promptText": prompt,
		"duration":   lengthSeconds,
		"ratio":      "1280:720",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal runway request: %w", err)
	}
	return data, nil
}

type runwayCreateResponse struct {
	ID string `json:"id"`
}

type runwayTaskResponse struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Output  []string `json:"output"`
	Failure string   `json:"failure"`
}

func (d *runwayDescriptor) ExtractTaskID(body []byte) string {
	var resp runwayCreateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.ID
}

func (d *runwayDescriptor) ClassifyStatus(body []byte) RemoteState {
	var resp runwayTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return RemoteStateProcessing
	}
	// PENDING/RUNNING/THROTTLED 均视为处理中
	return normalizeState(resp.Status)
}

func (d *runwayDescriptor) ExtractResultURL(body []byte) string {
	var resp runwayTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if len(resp.Output) == 0 {
		return ""
	}
	return resp.Output[0]
}

func (d *runwayDescriptor) ExtractError(body []byte) string {
	var resp runwayTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Failure
}
