package handler

import (
	"rewardengine/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 批次触发
		jobs := api.Group("/jobs")
		{
			jobs.POST("/run", h.RunJob)
			jobs.POST("/center-release", h.RunCenterRelease)
		}

		// 奖金查询
		rewards := api.Group("/rewards")
		{
			rewards.GET("/log", h.GetRewardLog)
			rewards.GET("/summary", h.GetRewardSummary)
			rewards.GET("/limit", h.GetAvailableLimit)
		}

		// 管理接口
		admin := api.Group("/admin")
		{
			admin.POST("/lineage/repair", h.RepairLineage)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus 指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
