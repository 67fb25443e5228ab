package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"z-video-ai-api/internal/domain/entity"
)

const klingDefaultModel = "kling-v1-6"

// klingDescriptor 可灵文生视频 API 描述符
type klingDescriptor struct {
	model string
}

func newKlingDescriptor(model string) *klingDescriptor {
	if model == "" {
		model = klingDefaultModel
	}
	return &klingDescriptor{model: model}
}

func (d *klingDescriptor) Key() string  { return "kling" }
func (d *klingDescriptor) Name() string { return "Kling" }

func (d *klingDescriptor) CostPerSecond() float64 { return 0.05 }

func (d *klingDescriptor) SupportsTier(tier entity.Tier) bool { return true }

func (d *klingDescriptor) EstimatedTime(lengthSeconds int) time.Duration {
	return time.Duration(lengthSeconds) * 20 * time.Second
}

func (d *klingDescriptor) CreateEndpoint(baseURL string) string {
	return baseURL + "/v1/videos/text2video"
}

func (d *klingDescriptor) StatusEndpoint(baseURL, taskID string) string {
	return baseURL + "/v1/videos/text2video/" + taskID
}

func (d *klingDescriptor) ApplyAuth(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (d *klingDescriptor) BuildRequest(prompt string, lengthSeconds int) ([]byte, error) {
	// 可灵仅支持 5 秒与 10 秒两档
	duration := "5"
	if lengthSeconds > 5 {
		duration = "10"
	}
	body := map[string]any{
		"model_name":   d.model,
		"prompt":       prompt,
		"duration":     duration,
		"aspect_ratio": "16:9",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal kling request: %w", err)
	}
	return data, nil
}

type klingResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Videos []struct {
				URL      string `json:"url"`
				Duration string `json:"duration"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

func (d *klingDescriptor) ExtractTaskID(body []byte) string {
	var resp klingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if resp.Code != 0 {
		return ""
	}
	return resp.Data.TaskID
}

func (d *klingDescriptor) ClassifyStatus(body []byte) RemoteState {
	var resp klingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return RemoteStateProcessing
	}
	// submitted/processing 归一化为处理中，succeed/failed 为终态
	return normalizeState(resp.Data.TaskStatus)
}

func (d *klingDescriptor) ExtractResultURL(body []byte) string {
	var resp klingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	videos := resp.Data.TaskResult.Videos
	if len(videos) == 0 {
		return ""
	}
	return videos[0].URL
}

func (d *klingDescriptor) ExtractError(body []byte) string {
	var resp klingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if resp.Data.TaskStatusMsg != "" {
		return resp.Data.TaskStatusMsg
	}
	if resp.Code != 0 {
		return resp.Message + " (code " + strconv.Itoa(resp.Code) + ")"
	}
	return ""
}
