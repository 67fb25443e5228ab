package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"z-video-ai-api/internal/domain/entity"
)

const kieDefaultModel = "veo3_fast"

// kieDescriptor Kie.ai 聚合平台描述符，作为免费档的低成本入口
type kieDescriptor struct {
	model string
}

func newKieDescriptor(model string) *kieDescriptor {
	if model == "" {
		model = kieDefaultModel
	}
	return &kieDescriptor{model: model}
}

func (d *kieDescriptor) Key() string  { return "kie" }
func (d *kieDescriptor) Name() string { return "Kie.ai" }

func (d *kieDescriptor) CostPerSecond() float64 { return 0.02 }

func (d *kieDescriptor) SupportsTier(tier entity.Tier) bool { return true }

func (d *kieDescriptor) EstimatedTime(lengthSeconds int) time.Duration {
	return time.Duration(lengthSeconds) * 30 * time.Second
}

func (d *kieDescriptor) CreateEndpoint(baseURL string) string {
	return baseURL + "/api/v1/veo/generate"
}

func (d *kieDescriptor) StatusEndpoint(baseURL, taskID string) string {
	return baseURL + "/api/v1/veo/record-info?taskId=" + taskID
}

func (d *kieDescriptor) ApplyAuth(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (d *kieDescriptor) BuildRequest(prompt string, lengthSeconds int) ([]byte, error) {
	body := map[string]any{
		"model":       d.model,
		"prompt":      prompt,
		"duration":    lengthSeconds,
		"aspectRatio": "16:9",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal kie request: %w", err)
	}
	return data, nil
}

type kieResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID     string `json:"taskId"`
		State      string `json:"state"`
		FailMsg    string `json:"failMsg"`
		ResultJSON string `json:"resultJson"`
	} `json:"data"`
}

// kieResult resultJson 字段内嵌的 JSON 字符串结构
type kieResult struct {
	ResultURLs []string `json:"resultUrls"`
}

func (d *kieDescriptor) ExtractTaskID(body []byte) string {
	var resp kieResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if resp.Code != 200 {
		return ""
	}
	return resp.Data.TaskID
}

func (d *kieDescriptor) ClassifyStatus(body []byte) RemoteState {
	var resp kieResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return RemoteStateProcessing
	}
	// waiting/queuing/generating 等中间态统一视为处理中
	return normalizeState(resp.Data.State)
}

func (d *kieDescriptor) ExtractResultURL(body []byte) string {
	var resp kieResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if resp.Data.ResultJSON == "" {
		return ""
	}
	var result kieResult
	if err := json.Unmarshal([]byte(resp.Data.ResultJSON), &result); err != nil {
		return ""
	}
	if len(result.ResultURLs) == 0 {
		return ""
	}
	return result.ResultURLs[0]
}

func (d *kieDescriptor) ExtractError(body []byte) string {
	var resp kieResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if resp.Data.FailMsg != "" {
		return resp.Data.FailMsg
	}
	if resp.Code != 200 && resp.Code != 0 {
		return resp.Msg
	}
	return ""
}
