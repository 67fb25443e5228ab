package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"z-video-ai-api/internal/application/generation"
	"z-video-ai-api/internal/application/quota"
	"z-video-ai-api/internal/domain/entity"
	"z-video-ai-api/internal/domain/repository"
	"z-video-ai-api/internal/infrastructure/messaging"
	"z-video-ai-api/internal/infrastructure/persistence/redis"
	"z-video-ai-api/internal/infrastructure/provider"
	"z-video-ai-api/internal/interfaces/http/dto"
	apperrors "z-video-ai-api/pkg/errors"
	"z-video-ai-api/pkg/logger"
)

const (
	defaultLengthSeconds = 5

	// terminalCacheTTL 终态记录不再变化，可长期缓存
	terminalCacheTTL = time.Hour
)

// GenerationHandler 视频生成处理器
type GenerationHandler struct {
	userRepo repository.UserRepository
	genRepo  repository.GenerationRepository
	ledger   *quota.Ledger
	creator  *generation.Creator
	poller   *generation.Poller
	registry *provider.Registry
	cache    *redis.Cache
	events   generation.EventPublisher
}

// NewGenerationHandler 创建视频生成处理器
func NewGenerationHandler(
	userRepo repository.UserRepository,
	genRepo repository.GenerationRepository,
	ledger *quota.Ledger,
	creator *generation.Creator,
	poller *generation.Poller,
	registry *provider.Registry,
	cache *redis.Cache,
	events generation.EventPublisher,
) *GenerationHandler {
	return &GenerationHandler{
		userRepo: userRepo,
		genRepo:  genRepo,
		ledger:   ledger,
		creator:  creator,
		poller:   poller,
		registry: registry,
		cache:    cache,
		events:   events,
	}
}

// Generate 创建视频生成任务
// @Summary 创建视频生成任务
// @Description 预留配额后沿档位链派发任务，返回可轮询的生成记录
// @Tags Generations
// @Accept json
// @Produce json
// @Param body body dto.GenerateRequest true "生成请求"
// @Success 200 {object} dto.GenerateResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 402 {object} dto.QuotaExceededResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.GenerateFailedResponse
// @Router /generate [post]
func (h *GenerationHandler) Generate(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	user, err := h.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		logger.Error(ctx, "failed to load user", err, "user_id", req.UserID)
		dto.InternalError(c, "failed to load user")
		return
	}
	if user == nil {
		dto.NotFound(c, "user not found")
		return
	}
	ctx = logger.WithContext(ctx, logger.UserIDKey, user.ID)

	tier := user.Tier
	if req.Tier != "" {
		tier = entity.Tier(req.Tier)
		if !tier.Valid() {
			dto.BadRequest(c, "unknown tier: "+req.Tier)
			return
		}
	}

	length := req.Length
	if length <= 0 {
		length = defaultLengthSeconds
	}

	reservation, err := h.ledger.Reserve(ctx, user)
	if err != nil {
		var exceeded quota.ExceededError
		if errors.As(err, &exceeded) {
			c.JSON(http.StatusPaymentRequired, dto.QuotaExceededResponse{
				Message:   "monthly free quota exhausted, upgrade your plan or wait for the monthly reset",
				FreeUsed:  exceeded.FreeUsed,
				FreeLimit: exceeded.FreeLimit,
			})
			return
		}
		logger.Error(ctx, "quota reservation failed", err, "user_id", user.ID)
		dto.ServiceUnavailable(c, "quota reservation failed, please retry")
		return
	}

	gen := entity.NewGeneration(user.ID, req.Prompt, tier, length)
	if err := h.genRepo.Create(ctx, gen); err != nil {
		// 尚未创建远程任务，归还预留的额度
		h.ledger.Rollback(ctx, reservation)
		logger.Error(ctx, "failed to persist generation", err, "generation_id", gen.ID)
		dto.InternalError(c, "failed to persist generation")
		return
	}

	result, err := h.creator.Dispatch(ctx, tier, req.Prompt, length)
	if err != nil {
		// 未创建任何远程任务，归还预留的额度并落下失败终态
		h.ledger.Rollback(ctx, reservation)
		gen.Fail("all providers exhausted")
		if _, finErr := h.genRepo.FinalizeIfProcessing(ctx, gen); finErr != nil {
			logger.Error(ctx, "failed to finalize exhausted generation", finErr, "generation_id", gen.ID)
		}
		logger.Error(ctx, "all providers exhausted", err, "user_id", user.ID, "tier", string(tier))
		c.JSON(http.StatusInternalServerError, dto.GenerateFailedResponse{
			Success: false,
			Message: "all video providers are currently unavailable, please try again later",
			Elapsed: formatElapsed(time.Since(start)),
		})
		return
	}

	gen.Start(result.ProviderKey, result.TaskID, result.Cost)
	if err := h.genRepo.UpdateDispatch(ctx, gen); err != nil {
		// 远程任务已创建，额度已被真实消耗，不回滚
		logger.Error(ctx, "failed to record dispatch", err,
			"generation_id", gen.ID, "provider", result.ProviderKey, "task_id", result.TaskID)
		dto.InternalError(c, "failed to persist generation")
		return
	}
	if h.events != nil {
		h.events.PublishGenerationEvent(ctx, messaging.EventGenerationCreated, gen)
	}

	var remaining *int
	if !reservation.Tier.Paid() {
		left := h.ledger.FreeLimit() - (reservation.Previous + 1)
		if left < 0 {
			left = 0
		}
		remaining = &left
	}

	c.JSON(http.StatusOK, dto.GenerateResponse{
		Success:       true,
		Status:        string(gen.Status),
		GenerationID:  gen.ID,
		TaskID:        gen.ProviderTaskID,
		Provider:      result.ProviderName,
		RemainingFree: remaining,
		PollURL:       "/poll?generationId=" + gen.ID,
		EstimatedTime: formatElapsed(result.EstimatedTime),
	})
}

// Poll 轮询生成进度
// @Summary 轮询生成进度
// @Description 做一次远程状态检查并返回规范化状态，终态结果幂等
// @Tags Generations
// @Produce json
// @Param generationId query string true "生成记录 ID"
// @Success 200 {object} dto.PollResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /poll [get]
func (h *GenerationHandler) Poll(c *gin.Context) {
	ctx := c.Request.Context()

	generationID := c.Query("generationId")
	if generationID == "" {
		dto.BadRequest(c, "generationId is required")
		return
	}

	gen, err := h.poller.Poll(ctx, generationID)
	if err != nil {
		appErr := apperrors.AsAppError(err)
		if appErr.Code == apperrors.CodeGenerationNotFound {
			dto.NotFound(c, "generation not found")
			return
		}
		logger.Error(ctx, "poll failed", err, "generation_id", generationID)
		dto.InternalError(c, "failed to poll generation")
		return
	}

	resp := dto.PollResponse{
		Success: gen.Status != entity.GenerationStatusFailed,
		Status:  string(gen.Status),
		Elapsed: formatElapsed(gen.Elapsed(time.Now().UTC())),
	}
	if gen.Status == entity.GenerationStatusCompleted {
		resp.VideoURL = gen.VideoURL
		resp.Progress = 100
	} else if gen.Status == entity.GenerationStatusFailed {
		resp.Error = gen.ErrorMessage
		resp.Progress = 100
	} else if desc, ok := h.registry.Get(gen.ProviderKey); ok {
		resp.Progress = generation.Progress(gen, desc.EstimatedTime(gen.LengthSeconds), time.Now().UTC())
	}

	c.JSON(http.StatusOK, resp)
}

// Get 获取生成记录详情
// @Summary 获取生成记录详情
// @Tags Generations
// @Produce json
// @Param gid path string true "生成记录 ID"
// @Success 200 {object} dto.Response[dto.GenerationResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/generations/{gid} [get]
func (h *GenerationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	generationID := dto.BindGenerationID(c)

	if h.cache != nil {
		if raw, err := h.cache.Get(ctx, redis.BuildGenerationKey(generationID)); err == nil {
			var cached dto.GenerationResponse
			if json.Unmarshal(raw, &cached) == nil {
				dto.Success(c, &cached)
				return
			}
		}
	}

	gen, err := h.genRepo.GetByID(ctx, generationID)
	if err != nil {
		logger.Error(ctx, "failed to get generation", err, "generation_id", generationID)
		dto.InternalError(c, "failed to get generation")
		return
	}
	if gen == nil {
		dto.NotFound(c, "generation not found")
		return
	}

	resp := dto.ToGenerationResponse(gen)
	if h.cache != nil && gen.Status.Terminal() {
		if err := h.cache.Set(ctx, redis.BuildGenerationKey(gen.ID), resp, terminalCacheTTL); err != nil {
			logger.Warn(ctx, "failed to cache generation", "generation_id", gen.ID, "error", err.Error())
		}
	}
	dto.Success(c, resp)
}

// Cancel 取消生成任务
// @Summary 取消生成任务
// @Description 将未终态的生成记录标记为 cancelled，远程任务自行运行至结束
// @Tags Generations
// @Produce json
// @Param gid path string true "生成记录 ID"
// @Success 200 {object} dto.Response[dto.GenerationResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/generations/{gid} [delete]
func (h *GenerationHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	generationID := dto.BindGenerationID(c)

	gen, err := h.genRepo.GetByID(ctx, generationID)
	if err != nil {
		logger.Error(ctx, "failed to get generation", err, "generation_id", generationID)
		dto.InternalError(c, "failed to get generation")
		return
	}
	if gen == nil {
		dto.NotFound(c, "generation not found")
		return
	}

	if !gen.Cancel() {
		dto.Conflict(c, "generation already reached a terminal state")
		return
	}

	applied, err := h.genRepo.FinalizeIfProcessing(ctx, gen)
	if err != nil {
		logger.Error(ctx, "failed to cancel generation", err, "generation_id", generationID)
		dto.InternalError(c, "failed to cancel generation")
		return
	}
	if !applied {
		// 与轮询的终态写入竞争失败，返回落库结果
		stored, err := h.genRepo.GetByID(ctx, generationID)
		if err != nil || stored == nil {
			dto.InternalError(c, "failed to cancel generation")
			return
		}
		dto.Conflict(c, "generation already reached a terminal state")
		return
	}

	logger.Info(ctx, "generation cancelled", "generation_id", gen.ID)
	if h.events != nil {
		h.events.PublishGenerationEvent(ctx, messaging.EventGenerationCancelled, gen)
	}
	dto.Success(c, dto.ToGenerationResponse(gen))
}

// ListByUser 获取用户的生成记录列表
// @Summary 获取用户的生成记录列表
// @Tags Generations
// @Produce json
// @Param uid path string true "用户 ID"
// @Param status query string false "状态过滤"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[dto.GenerationListResponse]
// @Router /v1/users/{uid}/generations [get]
func (h *GenerationHandler) ListByUser(c *gin.Context) {
	ctx := c.Request.Context()
	userID := dto.BindUserID(c)
	pageReq := dto.BindPage(c)

	var filter *repository.GenerationFilter
	if status := c.Query("status"); status != "" {
		filter = &repository.GenerationFilter{Status: entity.GenerationStatus(status)}
	}

	result, err := h.genRepo.ListByUser(ctx, userID, filter, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list generations", err, "user_id", userID)
		dto.InternalError(c, "failed to list generations")
		return
	}

	dto.SuccessWithPage(c, dto.ToGenerationListResponse(result.Items),
		dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total)))
}

// QuotaStatus 获取用户配额状态
// @Summary 获取用户配额状态
// @Tags Users
// @Produce json
// @Param uid path string true "用户 ID"
// @Success 200 {object} dto.Response[dto.QuotaStatusResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/users/{uid}/quota [get]
func (h *GenerationHandler) QuotaStatus(c *gin.Context) {
	ctx := c.Request.Context()
	userID := dto.BindUserID(c)

	user, err := h.userRepo.GetByID(ctx, userID)
	if err != nil {
		logger.Error(ctx, "failed to load user", err, "user_id", userID)
		dto.InternalError(c, "failed to load user")
		return
	}
	if user == nil {
		dto.NotFound(c, "user not found")
		return
	}

	dto.Success(c, dto.ToQuotaStatusResponse(user, h.ledger.FreeLimit(), h.ledger.Remaining(user)))
}

// formatElapsed 秒级精度的时长展示
func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
