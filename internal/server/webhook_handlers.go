package server

import (
	"encoding/json"
	"errors"
	"log"
	"regexp"
	"unicode/utf8"

	"github.com/kataras/iris/v12"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/auth"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/middleware"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/service"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/whatsapp"
)

// handleBridgeWebhook 桥接回调入口。未识别事件也回 200，桥接才不会
// 反复重投我们不关心的事件
func handleBridgeWebhook(svc *service.WebhookService) iris.Handler {
	return func(ctx iris.Context) {
		var ev whatsapp.BridgeEvent
		if err := ctx.ReadJSON(&ev); err != nil {
			ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
				"success": false,
				"error":   "invalid payload",
			})
			return
		}
		if err := svc.ProcessBridgeEvent(ctx.Request().Context(), &ev); err != nil {
			// 存储故障回 500，桥接会按自己的策略重投；落库是幂等的，
			// 重投不会写出重复行
			log.Printf("bridge webhook failed: event=%s err=%v", ev.Event, err)
			ctx.StopWithJSON(iris.StatusInternalServerError, iris.Map{
				"success": false,
				"error":   "processing failed",
			})
			return
		}
		ctx.JSON(iris.Map{"success": true, "event": ev.Event})
	}
}

// handleCloudVerify Cloud API 的订阅握手：mode 和口令都对才原样回显
// challenge，失败统一 403，不提示是哪一项没对上
func handleCloudVerify(cfg *config.Config) iris.Handler {
	return func(ctx iris.Context) {
		mode := ctx.URLParam("hub.mode")
		token := ctx.URLParam("hub.verify_token")
		challenge := ctx.URLParam("hub.challenge")

		if mode == "subscribe" && token != "" && token == cfg.WhatsApp.Cloud.VerifyToken {
			ctx.WriteString(challenge)
			return
		}
		ctx.StatusCode(iris.StatusForbidden)
	}
}

// handleCloudWebhook Cloud API 回调入口。请求体用签名闸门校验过的那份
// 原始字节，不再读一次 body
func handleCloudWebhook(svc *service.WebhookService) iris.Handler {
	return func(ctx iris.Context) {
		raw, ok := ctx.Values().Get(middleware.RawBodyKey).([]byte)
		if !ok {
			ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
				"success": false,
				"error":   "missing body",
			})
			return
		}
		var payload whatsapp.CloudWebhookPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
				"success": false,
				"error":   "invalid payload",
			})
			return
		}
		if err := svc.ProcessCloudPayload(ctx.Request().Context(), &payload); err != nil {
			log.Printf("cloud webhook failed: %v", err)
			ctx.StopWithJSON(iris.StatusInternalServerError, iris.Map{
				"success": false,
				"error":   "processing failed",
			})
			return
		}
		ctx.JSON(iris.Map{"success": true})
	}
}

// agentAuth 出站发送接口的坐席登录闸门
func agentAuth(cfg *config.Config) iris.Handler {
	return func(ctx iris.Context) {
		token := ctx.GetHeader("Authorization")
		if token == "" {
			ctx.StopWithJSON(iris.StatusUnauthorized, iris.Map{
				"success": false,
				"error":   "missing token",
			})
			return
		}
		claims, err := auth.ParseToken(&cfg.JWT, token)
		if err != nil {
			ctx.StopWithJSON(iris.StatusUnauthorized, iris.Map{
				"success": false,
				"error":   "invalid token",
			})
			return
		}
		ctx.Values().Set("agent_id", claims.AgentID)
		ctx.Next()
	}
}

var phonePattern = regexp.MustCompile(`^\d{10,15}$`)

type sendRequest struct {
	PhoneNumber  string `json:"phoneNumber"`
	Message      string `json:"message"`
	InstanceName string `json:"instanceName"`
	MediaURL     string `json:"mediaUrl"`
	MediaType    string `json:"mediaType"`
	Caption      string `json:"caption"`
	TemplateName string `json:"templateName"`
	TemplateLang string `json:"templateLanguage"`
}

// handleSend 出站发送。校验 → 派发 → 回写本地 outgoing 消息；
// 回写失败只记日志，消息毕竟已经发出去了
func handleSend(cfg *config.Config, dispatchSvc *service.DispatchService, webhookSvc *service.WebhookService) iris.Handler {
	return func(ctx iris.Context) {
		var req sendRequest
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
				"success": false,
				"error":   "invalid payload",
			})
			return
		}

		fieldErrors := iris.Map{}
		if !phonePattern.MatchString(req.PhoneNumber) {
			fieldErrors["phoneNumber"] = "must match ^\\d{10,15}$"
		}
		// 模板消息的正文可以为空（内容在模板里），但给了就同样受上限约束
		switch n := utf8.RuneCountInString(req.Message); {
		case req.TemplateName == "" && (n < 1 || n > 4096):
			fieldErrors["message"] = "length must be between 1 and 4096"
		case req.TemplateName != "" && n > 4096:
			fieldErrors["message"] = "length must be at most 4096"
		}
		if len(fieldErrors) > 0 {
			ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
				"success": false,
				"errors":  fieldErrors,
			})
			return
		}

		result, err := dispatchSvc.Send(ctx.Request().Context(), &service.DispatchRequest{
			PhoneNumber:      req.PhoneNumber,
			Message:          req.Message,
			Instance:         req.InstanceName,
			MediaURL:         req.MediaURL,
			MediaType:        req.MediaType,
			Caption:          req.Caption,
			TemplateName:     req.TemplateName,
			TemplateLanguage: req.TemplateLang,
		})
		if err != nil {
			var de *service.DispatchError
			if errors.As(err, &de) {
				ctx.StopWithJSON(iris.StatusInternalServerError, iris.Map{
					"success":        false,
					"error":          "upstream rejected message",
					"upstreamStatus": de.Status,
					"upstreamBody":   de.Body,
				})
				return
			}
			log.Printf("dispatch failed: %v", err)
			ctx.StopWithJSON(iris.StatusInternalServerError, iris.Map{
				"success": false,
				"error":   err.Error(),
			})
			return
		}

		// 回写本地 outgoing 消息，后续状态回执靠 provider_message_id 关联
		to := whatsapp.NormalizeDestination(req.PhoneNumber, cfg.WhatsApp.DefaultCountryCode)
		msgType := whatsapp.TypeText
		if req.MediaURL != "" && req.MediaType != "" {
			msgType = req.MediaType
		}
		if err := webhookSvc.RecordOutbound(ctx.Request().Context(),
			result.ChannelType, result.Instance, to, req.Message,
			result.ProviderMessageID, msgType); err != nil {
			log.Printf("record outbound message failed: %v", err)
		}

		ctx.JSON(iris.Map{
			"success":   true,
			"messageId": result.ProviderMessageID,
			"status":    "sent",
		})
	}
}
