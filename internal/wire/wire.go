//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"github.com/google/wire"

	"z-video-ai-api/internal/application/generation"
	"z-video-ai-api/internal/application/quota"
	"z-video-ai-api/internal/config"
	"z-video-ai-api/internal/domain/repository"
	"z-video-ai-api/internal/infrastructure/messaging"
	"z-video-ai-api/internal/infrastructure/persistence/postgres"
	"z-video-ai-api/internal/infrastructure/persistence/redis"
	"z-video-ai-api/internal/infrastructure/provider"
	"z-video-ai-api/internal/interfaces/http/handler"
	"z-video-ai-api/internal/interfaces/http/middleware"
	"z-video-ai-api/internal/interfaces/http/router"
)

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		ProviderSet,
		ApplicationSet,
		RouterSet,
	)
	return nil, nil, nil
}

// RepoSet PostgreSQL 仓储集合
var RepoSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewUserRepository,
	postgres.NewGenerationRepository,
	wire.Bind(new(repository.UserRepository), new(*postgres.UserRepository)),
	wire.Bind(new(repository.GenerationRepository), new(*postgres.GenerationRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCache,
	redis.NewRateLimiter,
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	wire.Bind(new(generation.EventPublisher), new(*messaging.Producer)),
)

// ProviderSet 视频供应商接入集合
var ProviderSet = wire.NewSet(
	provider.NewRegistry,
	provider.NewHTTPClient,
)

// ApplicationSet 应用服务集合
var ApplicationSet = wire.NewSet(
	ProvideLedger,
	ProvideCreator,
	ProvidePoller,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	handler.NewHealthHandler,
	handler.NewGenerationHandler,
	router.New,
)

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	return messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideLedger 提供配额账本
func ProvideLedger(userRepo repository.UserRepository, cfg *config.Config) *quota.Ledger {
	return quota.NewLedger(userRepo, cfg.Quota.FreeLimit)
}

// ProvideCreator 提供任务派发器
func ProvideCreator(registry *provider.Registry, caller *provider.HTTPClient, cfg *config.Config) *generation.Creator {
	return generation.NewCreator(registry, caller, &cfg.Providers)
}

// ProvidePoller 提供轮询状态机
func ProvidePoller(
	genRepo repository.GenerationRepository,
	registry *provider.Registry,
	caller *provider.HTTPClient,
	cfg *config.Config,
	events generation.EventPublisher,
) *generation.Poller {
	return generation.NewPoller(genRepo, registry, caller, cfg.Poller, events)
}
