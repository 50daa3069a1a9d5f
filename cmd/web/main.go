package main

import (
	"log"

	"github.com/kataras/iris/v12"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/server"
)

func main() {
	// 加载配置（默认值 + .env + 环境变量）
	cfg := config.Load()

	app := iris.New()
	server.RegisterRoutes(app, cfg)

	addr := cfg.Server.Addr()
	log.Printf("whatsapp gateway listening on %s (env=%s)", addr, cfg.Env)
	if err := app.Run(iris.Addr(addr)); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
