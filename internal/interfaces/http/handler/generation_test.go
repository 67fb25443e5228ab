package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"z-video-ai-api/internal/application/generation"
	"z-video-ai-api/internal/application/quota"
	"z-video-ai-api/internal/config"
	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/internal/domain/repository"
	"z-video-ai-api/internal/infrastructure/persistence/postgres"
	redisrepo "z-video-ai-api/internal/infrastructure/persistence/redis"
	"z-video-ai-api/internal/infrastructure/provider"
	"z-video-ai-api/internal/interfaces/http/dto"
)

// fakeProvider 可编程的供应商假服务
type fakeProvider struct {
	mu           sync.Mutex
	server       *httptest.Server
	createStatus int
	createBody   string
	pollBodies   []string
	createCalls  int
	pollCalls    int
}

func newFakeKieProvider(t *testing.T) *fakeProvider {
	t.Helper()

	f := &fakeProvider{
		createStatus: http.StatusOK,
		createBody:   `{"code":200,"msg":"success","data":{"taskId":"kt-100"}}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/veo/generate", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.createCalls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.createStatus)
		fmt.Fprint(w, f.createBody)
	})
	mux.HandleFunc("/api/v1/veo/record-info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body := `{"code":200,"data":{"taskId":"kt-100","state":"waiting"}}`
		if f.pollCalls < len(f.pollBodies) {
			body = f.pollBodies[f.pollCalls]
		} else if len(f.pollBodies) > 0 {
			body = f.pollBodies[len(f.pollBodies)-1]
		}
		f.pollCalls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type apiFixture struct {
	engine   *gin.Engine
	userRepo *postgres.UserRepository
	genRepo  *postgres.GenerationRepository
	provider *fakeProvider
	redis    *miniredis.Miniredis
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&entity.User{}, &entity.Generation{}))
	t.Cleanup(func() { _ = sqlDB.Close() })

	client := postgres.NewClientWithDB(db)
	userRepo := postgres.NewUserRepository(client)
	genRepo := postgres.NewGenerationRepository(client)

	fake := newFakeKieProvider(t)

	providersCfg := config.ProvidersConfig{
		Credentials: map[string]config.ProviderConfig{
			"kie": {APIKey: "test-key", BaseURL: fake.server.URL, Timeout: time.Second},
		},
		Chains: map[string][]string{
			"free": {"kie"},
			"pro":  {"kie"},
		},
		MaxAttemptsPerProvider: 2,
		RetryPause:             time.Millisecond,
	}
	registry, err := provider.NewRegistry(&config.Config{Providers: providersCfg})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := redisrepo.NewCache(redisrepo.NewClientWithRedis(rdb))

	caller := provider.NewHTTPClient()
	ledger := quota.NewLedger(userRepo, 10)
	creator := generation.NewCreator(registry, caller, &providersCfg)
	poller := generation.NewPoller(genRepo, registry, caller, config.PollerConfig{
		MaxAttempts:        150,
		MaxEmptyURLRetries: 3,
	}, nil)

	h := NewGenerationHandler(userRepo, genRepo, ledger, creator, poller, registry, cache, nil)

	engine := gin.New()
	engine.POST("/generate", h.Generate)
	engine.GET("/poll", h.Poll)
	engine.GET("/v1/generations/:gid", h.Get)
	engine.DELETE("/v1/generations/:gid", h.Cancel)
	engine.GET("/v1/users/:uid/generations", h.ListByUser)
	engine.GET("/v1/users/:uid/quota", h.QuotaStatus)

	return &apiFixture{engine: engine, userRepo: userRepo, genRepo: genRepo, provider: fake, redis: mr}
}

func (f *apiFixture) createUser(t *testing.T, tier entity.Tier, freeUsed int) *entity.User {
	t.Helper()

	user := entity.NewUser("carol@example.com", "carol", tier)
	user.FreeUsed = freeUsed
	require.NoError(t, f.userRepo.Create(context.Background(), user))
	return user
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestGenerateEndpoint(t *testing.T) {
	t.Run("dispatches and reports remaining quota", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
			"tier":   "free",
			"length": 5,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "processing", resp.Status)
		assert.NotEmpty(t, resp.GenerationID)
		assert.Equal(t, "kt-100", resp.TaskID)
		assert.Equal(t, "Kie.ai", resp.Provider)
		require.NotNil(t, resp.RemainingFree)
		assert.Equal(t, 9, *resp.RemainingFree)
		assert.Equal(t, "/poll?generationId="+resp.GenerationID, resp.PollURL)

		got, err := f.userRepo.GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.FreeUsed)
	})

	t.Run("paid tier has null remaining", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierPro, 0)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "neon city flythrough",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
		assert.Equal(t, "null", string(raw["remainingFree"]))
	})

	t.Run("quota exhausted returns 402 without consuming", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 10)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusPaymentRequired, w.Code)

		var resp dto.QuotaExceededResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 10, resp.FreeUsed)
		assert.Equal(t, 10, resp.FreeLimit)

		got, err := f.userRepo.GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.FreeUsed)
		assert.Zero(t, f.provider.createCalls)
	})

	t.Run("exhausted chain rolls back quota", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 3)
		f.provider.createBody = `{"code":200,"data":{}}`

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusInternalServerError, w.Code)

		var resp dto.GenerateFailedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Elapsed)

		got, err := f.userRepo.GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.FreeUsed)

		// 记录先以 pending 落库，派发失败后收敛为 failed 终态
		page, err := f.genRepo.ListByUser(context.Background(), user.ID, nil, repository.NewPagination(1, 10))
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, entity.GenerationStatusFailed, page.Items[0].Status)
		assert.Equal(t, "all providers exhausted", page.Items[0].ErrorMessage)
	})

	t.Run("dispatch state lands on the pending row", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var created dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		stored, err := f.genRepo.GetByID(context.Background(), created.GenerationID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, entity.GenerationStatusProcessing, stored.Status)
		assert.Equal(t, "kie", stored.ProviderKey)
		assert.Equal(t, "kt-100", stored.ProviderTaskID)
		require.NotNil(t, stored.StartedAt)
	})

	t.Run("free user requesting another chain tier still sees remaining quota", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
			"tier":   "pro",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.RemainingFree)
		assert.Equal(t, 9, *resp.RemainingFree)

		got, err := f.userRepo.GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.FreeUsed)
	})

	t.Run("unknown user returns 404", func(t *testing.T) {
		f := newAPIFixture(t)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": "missing",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing prompt returns 400", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)

		w := f.do(t, http.MethodPost, "/generate", gin.H{"userId": user.ID})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown tier returns 400", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
			"tier":   "platinum",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPollEndpoint(t *testing.T) {
	t.Run("processing then completed", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)
		f.provider.pollBodies = []string{
			`{"code":200,"data":{"taskId":"kt-100","state":"waiting"}}`,
			`{"code":200,"data":{"taskId":"kt-100","state":"generating"}}`,
			`{"code":200,"data":{"taskId":"kt-100","state":"success","resultJson":"{\"resultUrls\":[\"https://kie.ai/v.mp4\"]}"}}`,
		}

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var created dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		statuses := make([]string, 0, 3)
		var final dto.PollResponse
		for i := 0; i < 3; i++ {
			pw := f.do(t, http.MethodGet, "/poll?generationId="+created.GenerationID, nil)
			require.Equal(t, http.StatusOK, pw.Code)
			require.NoError(t, json.Unmarshal(pw.Body.Bytes(), &final))
			statuses = append(statuses, final.Status)
		}

		assert.Equal(t, []string{"processing", "processing", "completed"}, statuses)
		assert.Equal(t, "https://kie.ai/v.mp4", final.VideoURL)
		assert.Equal(t, 100, final.Progress)

		got, err := f.userRepo.GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.FreeUsed)
	})

	t.Run("terminal polls are idempotent", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)
		f.provider.pollBodies = []string{
			`{"code":200,"data":{"taskId":"kt-100","state":"success","resultJson":"{\"resultUrls\":[\"https://kie.ai/v.mp4\"]}"}}`,
		}

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var created dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		first := f.do(t, http.MethodGet, "/poll?generationId="+created.GenerationID, nil)
		require.Equal(t, http.StatusOK, first.Code)

		remoteCalls := f.provider.pollCalls
		var a, b dto.PollResponse
		require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))

		second := f.do(t, http.MethodGet, "/poll?generationId="+created.GenerationID, nil)
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))

		assert.Equal(t, a.Status, b.Status)
		assert.Equal(t, a.VideoURL, b.VideoURL)
		assert.Equal(t, a.Error, b.Error)
		assert.Equal(t, remoteCalls, f.provider.pollCalls)
	})

	t.Run("failed generation surfaces provider message", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)
		f.provider.pollBodies = []string{
			`{"code":200,"data":{"taskId":"kt-100","state":"fail","failMsg":"prompt rejected"}}`,
		}

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var created dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		pw := f.do(t, http.MethodGet, "/poll?generationId="+created.GenerationID, nil)
		require.Equal(t, http.StatusOK, pw.Code)

		var resp dto.PollResponse
		require.NoError(t, json.Unmarshal(pw.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "failed", resp.Status)
		assert.Equal(t, "prompt rejected", resp.Error)

		// 轮询失败不回滚配额，远程任务已真实消耗
		got, err := f.userRepo.GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.FreeUsed)
	})

	t.Run("missing generationId returns 400", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(t, http.MethodGet, "/poll", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown generation returns 404", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(t, http.MethodGet, "/poll?generationId=missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetEndpoint(t *testing.T) {
	t.Run("terminal generation is served from cache on repeat reads", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)
		f.provider.pollBodies = []string{
			`{"code":200,"data":{"taskId":"kt-100","state":"success","resultJson":"{\"resultUrls\":[\"https://kie.ai/v.mp4\"]}"}}`,
		}

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var created dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		pw := f.do(t, http.MethodGet, "/poll?generationId="+created.GenerationID, nil)
		require.Equal(t, http.StatusOK, pw.Code)

		first := f.do(t, http.MethodGet, "/v1/generations/"+created.GenerationID, nil)
		require.Equal(t, http.StatusOK, first.Code)
		assert.True(t, f.redis.Exists(redisrepo.BuildGenerationKey(created.GenerationID)))

		second := f.do(t, http.MethodGet, "/v1/generations/"+created.GenerationID, nil)
		require.Equal(t, http.StatusOK, second.Code)
		assert.JSONEq(t, first.Body.String(), second.Body.String())
	})

	t.Run("processing generation is not cached", func(t *testing.T) {
		f := newAPIFixture(t)
		user := f.createUser(t, entity.TierFree, 0)

		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var created dto.GenerateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		gw := f.do(t, http.MethodGet, "/v1/generations/"+created.GenerationID, nil)
		require.Equal(t, http.StatusOK, gw.Code)
		assert.False(t, f.redis.Exists(redisrepo.BuildGenerationKey(created.GenerationID)))
	})

	t.Run("unknown generation returns 404", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(t, http.MethodGet, "/v1/generations/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, entity.TierFree, 0)

	w := f.do(t, http.MethodPost, "/generate", gin.H{
		"prompt": "sunset timelapse",
		"userId": user.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var created dto.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	cw := f.do(t, http.MethodDelete, "/v1/generations/"+created.GenerationID, nil)
	require.Equal(t, http.StatusOK, cw.Code)

	stored, err := f.genRepo.GetByID(context.Background(), created.GenerationID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusCancelled, stored.Status)

	// 已终态的记录不能再取消
	again := f.do(t, http.MethodDelete, "/v1/generations/"+created.GenerationID, nil)
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestQuotaStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, entity.TierFree, 7)

	w := f.do(t, http.MethodGet, "/v1/users/"+user.ID+"/quota", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data dto.QuotaStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Data.FreeUsed)
	assert.Equal(t, 10, resp.Data.FreeLimit)
	assert.Equal(t, 3, resp.Data.Remaining)
}

func TestListGenerationsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	user := f.createUser(t, entity.TierFree, 0)

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/generate", gin.H{
			"prompt": "sunset timelapse",
			"userId": user.ID,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(t, http.MethodGet, "/v1/users/"+user.ID+"/generations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data dto.GenerationListResponse `json:"data"`
		Meta dto.PageMeta               `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Generations, 2)
	assert.Equal(t, 2, resp.Meta.Total)
}
