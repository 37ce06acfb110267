package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "tempmailbot/backend/internal/auth/jwt"
	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/health"
	"tempmailbot/backend/internal/middleware"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/notify"
	"tempmailbot/backend/internal/poller"
	"tempmailbot/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	RegistryService *service.RegistryService
	InboxService    *service.InboxService
	Poller          *poller.Poller
	Sweeper         *poller.Sweeper
	HealthChecker   *health.Checker
	Hub             *notify.Hub
	JWTManager      *jwtpkg.Manager // 为 nil 时关闭认证（开发模式）
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	mon := middleware.NewMonitoring(deps.Metrics, deps.Logger)
	router.Use(mon.PanicRecovery())
	router.Use(mon.RequestLogger())
	router.Use(mon.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.API.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.RegistryService, deps.InboxService, deps.Poller, deps.Sweeper, deps.Metrics, deps.Logger)
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Logger)

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.HealthChecker.CheckHealth())
	})
	router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveEndpoint()))
	router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyEndpoint()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// V1 API
	v1 := router.Group("/v1")
	v1.Use(jwtAuth.RequireAuth())
	{
		addresses := v1.Group("/addresses")
		{
			addresses.POST("", handler.CreateAddress)
			addresses.GET("/:identity", handler.GetAddress)
			addresses.DELETE("/:identity", handler.DeleteAddress)
			addresses.GET("/:identity/stats", handler.MailboxStats)

			// 收件箱端点
			addresses.GET("/:identity/messages", handler.ListMessages)
			addresses.GET("/:identity/messages/:uid", handler.ViewMessage)
			addresses.DELETE("/:identity/messages/:uid", handler.DeleteMessage)
			addresses.GET("/:identity/messages/:uid/attachments/:index", handler.DownloadAttachment)
		}

		v1.GET("/stats", handler.SystemStats)
	}

	// 新邮件实时推送
	if deps.Hub != nil {
		router.GET("/ws/:identity", deps.Hub.HandleWS)
	}

	return router
}
