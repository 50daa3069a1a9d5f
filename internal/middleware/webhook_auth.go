package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/kataras/iris/v12"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/whatsapp"
)

// RawBodyKey 签名闸门读出来的原始请求体在 ctx.Values 里的键，
// 后续 handler 必须用这份字节反序列化，不能再读 body
const RawBodyKey = "webhook_raw_body"

// BridgeTokenGuard 桥接回调的共享密钥闸门。支持 Authorization: Bearer
// 和 X-Webhook-Token 两种携带方式，校验失败在解析任何请求体之前
// 就拒绝。令牌值不写日志
func BridgeTokenGuard(token string) iris.Handler {
	return func(ctx iris.Context) {
		presented := ctx.GetHeader("X-Webhook-Token")
		if presented == "" {
			auth := ctx.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		// 未配置密钥时拒绝一切请求，而不是放行一切请求
		if token == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			ctx.StopWithJSON(iris.StatusUnauthorized, iris.Map{
				"success": false,
				"error":   "invalid webhook token",
			})
			return
		}
		ctx.Next()
	}
}

// CloudSignatureGuard Cloud API 回调的签名闸门。在这里一次性读出原始
// 字节做 HMAC 校验，校验通过后把原始体放进 ctx.Values 供 handler 用，
// 保证签名和反序列化用的是同一份字节
func CloudSignatureGuard(appSecret string, production bool) iris.Handler {
	return func(ctx iris.Context) {
		body, err := ctx.GetBody()
		if err != nil {
			ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
				"success": false,
				"error":   "unreadable body",
			})
			return
		}

		if appSecret == "" {
			// 只允许非生产环境裸跑（本地联调没有 app secret），
			// 生产环境必须 fail closed
			if production {
				ctx.StopWithJSON(iris.StatusUnauthorized, iris.Map{
					"success": false,
					"error":   "webhook signature secret not configured",
				})
				return
			}
			ctx.Values().Set(RawBodyKey, body)
			ctx.Next()
			return
		}

		header := ctx.GetHeader("X-Hub-Signature-256")
		if !whatsapp.VerifySignature(appSecret, body, header) {
			ctx.StopWithJSON(iris.StatusUnauthorized, iris.Map{
				"success": false,
				"error":   "invalid signature",
			})
			return
		}
		ctx.Values().Set(RawBodyKey, body)
		ctx.Next()
	}
}
