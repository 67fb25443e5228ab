package provider

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunwayDescriptor(t *testing.T) {
	d := newRunwayDescriptor("")

	t.Run("build request clamps duration", func(t *testing.T) {
		data, err := d.BuildRequest("a cat surfing", 30)
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, float64(10), body["duration"])
		assert.Equal(t, "a cat surfing", body["promptText"])
		assert.Equal(t, runwayDefaultModel, body["model"])
	})

	t.Run("auth headers", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "https://api.dev.runwayml.com/v1/text_to_video", nil)
		d.ApplyAuth(req, "rw-key")
		assert.Equal(t, "Bearer rw-key", req.Header.Get("Authorization"))
		assert.Equal(t, runwayAPIVersion, req.Header.Get("X-Runway-Version"))
	})

	t.Run("extract task id", func(t *testing.T) {
		assert.Equal(t, "task-123", d.ExtractTaskID([]byte(`{"id":"task-123"}`)))
		assert.Empty(t, d.ExtractTaskID([]byte(`{"error":"bad request"}`)))
	})

	t.Run("classify status", func(t *testing.T) {
		assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus([]byte(`{"id":"t","status":"PENDING"}`)))
		assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus([]byte(`{"id":"t","status":"RUNNING"}`)))
		assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus([]byte(`{"id":"t","status":"THROTTLED"}`)))
		assert.Equal(t, RemoteStateCompleted, d.ClassifyStatus([]byte(`{"id":"t","status":"SUCCEEDED"}`)))
		assert.Equal(t, RemoteStateFailed, d.ClassifyStatus([]byte(`{"id":"t","status":"FAILED"}`)))
	})

	t.Run("extract result and error", func(t *testing.T) {
		body := []byte(`{"id":"t","status":"SUCCEEDED","output":["https://cdn.runway.com/v.mp4"]}`)
		assert.Equal(t, "https://cdn.runway.com/v.mp4", d.ExtractResultURL(body))

		failed := []byte(`{"id":"t","status":"FAILED","failure":"content moderation"}`)
		assert.Equal(t, "content moderation", d.ExtractError(failed))
	})
}

func TestKlingDescriptor(t *testing.T) {
	d := newKlingDescriptor("")

	t.Run("build request snaps duration to tier", func(t *testing.T) {
		data, err := d.BuildRequest("neon city", 8)
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, "10", body["duration"])
	})

	t.Run("envelope with non zero code yields no task id", func(t *testing.T) {
		assert.Empty(t, d.ExtractTaskID([]byte(`{"code":1102,"message":"insufficient balance","data":{}}`)))
		assert.Equal(t, "tk-1", d.ExtractTaskID([]byte(`{"code":0,"message":"SUCCEED","data":{"task_id":"tk-1"}}`)))
	})

	t.Run("classify status", func(t *testing.T) {
		assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus([]byte(`{"code":0,"data":{"task_status":"submitted"}}`)))
		assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus([]byte(`{"code":0,"data":{"task_status":"processing"}}`)))
		assert.Equal(t, RemoteStateCompleted, d.ClassifyStatus([]byte(`{"code":0,"data":{"task_status":"succeed"}}`)))
		assert.Equal(t, RemoteStateFailed, d.ClassifyStatus([]byte(`{"code":0,"data":{"task_status":"failed","task_status_msg":"nsfw"}}`)))
	})

	t.Run("extract result url", func(t *testing.T) {
		body := []byte(`{"code":0,"data":{"task_status":"succeed","task_result":{"videos":[{"url":"https://kling.com/v.mp4","duration":"5"}]}}}`)
		assert.Equal(t, "https://kling.com/v.mp4", d.ExtractResultURL(body))
		assert.Empty(t, d.ExtractResultURL([]byte(`{"code":0,"data":{"task_status":"succeed"}}`)))
	})
}

func TestLumaDescriptor(t *testing.T) {
	d := newLumaDescriptor("")

	t.Run("classify status", func(t *testing.T) {
		assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus([]byte(`{"id":"g-1","state":"queued"}`)))
		assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus([]byte(`{"id":"g-1","state":"dreaming"}`)))
		assert.Equal(t, RemoteStateCompleted, d.ClassifyStatus([]byte(`{"id":"g-1","state":"completed"}`)))
		assert.Equal(t, RemoteStateFailed, d.ClassifyStatus([]byte(`{"id":"g-1","state":"failed","failure_reason":"prompt rejected"}`)))
	})

	t.Run("extract result and error", func(t *testing.T) {
		body := []byte(`{"id":"g-1","state":"completed","assets":{"video":"https://luma.com/v.mp4"}}`)
		assert.Equal(t, "https://luma.com/v.mp4", d.ExtractResultURL(body))
		assert.Equal(t, "prompt rejected", d.ExtractError([]byte(`{"id":"g-1","state":"failed","failure_reason":"prompt rejected"}`)))
	})
}

func TestKieDescriptor(t *testing.T) {
	d := newKieDescriptor("")

	t.Run("extract task id honors envelope code", func(t *testing.T) {
		assert.Equal(t, "kt-9", d.ExtractTaskID([]byte(`{"code":200,"msg":"success","data":{"taskId":"kt-9"}}`)))
		assert.Empty(t, d.ExtractTaskID([]byte(`{"code":402,"msg":"insufficient credits","data":{}}`)))
	})

	t.Run("classify intermediate vocabulary", func(t *testing.T) {
		for _, state := range []string{"waiting", "queuing", "queued", "generating", "processing"} {
			body := []byte(`{"code":200,"data":{"taskId":"kt-9","state":"` + state + `"}}`)
			assert.Equal(t, RemoteStateProcessing, d.ClassifyStatus(body), state)
		}
		assert.Equal(t, RemoteStateCompleted, d.ClassifyStatus([]byte(`{"code":200,"data":{"state":"success"}}`)))
		assert.Equal(t, RemoteStateFailed, d.ClassifyStatus([]byte(`{"code":200,"data":{"state":"fail"}}`)))
	})

	t.Run("result url lives in nested json string", func(t *testing.T) {
		body := []byte(`{"code":200,"data":{"taskId":"kt-9","state":"success","resultJson":"{\"resultUrls\":[\"https://kie.ai/v.mp4\"]}"}}`)
		assert.Equal(t, "https://kie.ai/v.mp4", d.ExtractResultURL(body))
	})

	t.Run("completed without urls yields empty", func(t *testing.T) {
		body := []byte(`{"code":200,"data":{"taskId":"kt-9","state":"success","resultJson":"{\"resultUrls\":[]}"}}`)
		assert.Empty(t, d.ExtractResultURL(body))
		assert.Empty(t, d.ExtractResultURL([]byte(`{"code":200,"data":{"state":"success"}}`)))
	})

	t.Run("extract error prefers fail msg", func(t *testing.T) {
		assert.Equal(t, "generation blocked", d.ExtractError([]byte(`{"code":200,"data":{"state":"fail","failMsg":"generation blocked"}}`)))
		assert.Equal(t, "insufficient credits", d.ExtractError([]byte(`{"code":402,"msg":"insufficient credits","data":{}}`)))
	})
}

func TestNormalizeStateUnknownVocabularyStaysProcessing(t *testing.T) {
	for _, raw := range []string{"", "PAUSED", "unknown-state", " Pending "} {
		assert.Equal(t, RemoteStateProcessing, normalizeState(raw), raw)
	}
}
