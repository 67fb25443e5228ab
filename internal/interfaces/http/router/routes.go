// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"

	"z-video-ai-api/internal/interfaces/http/handler"
)

// RegisterRoutes 注册业务路由
func RegisterRoutes(engine *gin.Engine, generationHandler *handler.GenerationHandler) {
	// 核心编排端点
	engine.POST("/generate", generationHandler.Generate)
	engine.GET("/poll", generationHandler.Poll)

	// v1 资源端点
	v1 := engine.Group("/v1")
	{
		generations := v1.Group("/generations")
		{
			generations.GET("/:gid", generationHandler.Get)
			generations.DELETE("/:gid", generationHandler.Cancel)
		}

		users := v1.Group("/users")
		{
			users.GET("/:uid/generations", generationHandler.ListByUser)
			users.GET("/:uid/quota", generationHandler.QuotaStatus)
		}
	}
}
