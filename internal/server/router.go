package server

import (
	"time"

	"github.com/kataras/iris/v12"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/infra/mq"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/infra/redis"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/middleware"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/repository/mysql"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/service"
)

// RegisterRoutes 初始化基础设施并注册所有 HTTP 路由
func RegisterRoutes(app *iris.Application, cfg *config.Config) {
	// 初始化基础设施
	db := mysql.Init(&cfg.MySQL)
	redisClient := redis.Init(&cfg.Redis)
	mqConn := mq.Init(&cfg.RabbitMQ)

	// 仓储与服务
	contactRepo := mysql.NewContactRepository(db)
	convRepo := mysql.NewConversationRepository(db)
	msgRepo := mysql.NewMessageRepository(db)

	dedup := service.NewDedupCache(redisClient, 24*time.Hour)
	publisher := service.NewEventPublisher(mqConn)
	webhookSvc := service.NewWebhookService(contactRepo, convRepo, msgRepo, dedup, publisher, cfg)
	dispatchSvc := service.NewDispatchService(cfg)

	RegisterAPIRoutes(app, cfg, webhookSvc, dispatchSvc)
}

// RegisterAPIRoutes 注册 API 路由。服务依赖由外部传入，测试时可以
// 用假仓储构建服务后直接挂路由
func RegisterAPIRoutes(app *iris.Application, cfg *config.Config, webhookSvc *service.WebhookService, dispatchSvc *service.DispatchService) {
	api := app.Party("/api")

	// 健康检查，顺带导出监控计数
	api.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{
			"code":    0,
			"msg":     "ok",
			"metrics": service.GetMonitor().Snapshot(),
		})
	})

	wa := api.Party("/whatsapp")

	// 桥接回调：令牌闸门在解析请求体之前拦掉坏请求
	wa.Post("/webhook",
		middleware.BridgeTokenGuard(cfg.WhatsApp.Bridge.WebhookToken),
		handleBridgeWebhook(webhookSvc))

	// Cloud API 回调：GET 是订阅握手，POST 走签名闸门
	wa.Get("/cloud/webhook", handleCloudVerify(cfg))
	wa.Post("/cloud/webhook",
		middleware.CloudSignatureGuard(cfg.WhatsApp.Cloud.AppSecret, cfg.IsProduction()),
		handleCloudWebhook(webhookSvc))

	// 出站发送：CRM 坐席登录态 + 限流
	wa.Post("/send",
		middleware.SendRateLimit(),
		agentAuth(cfg),
		handleSend(cfg, dispatchSvc, webhookSvc))
}
