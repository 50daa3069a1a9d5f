package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/httptest"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/auth"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/contact"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/conversation"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/message"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/service"
)

// 内存假仓储，只为走通 HTTP 层

type memContactRepo struct {
	byPhone map[string]*contact.Contact
	nextID  int64
}

func (r *memContactRepo) UpsertByPhone(_ context.Context, c *contact.Contact) (*contact.Contact, error) {
	if cur, ok := r.byPhone[c.Phone]; ok {
		return cur, nil
	}
	stored := *c
	r.nextID++
	stored.ID = r.nextID
	r.byPhone[c.Phone] = &stored
	return &stored, nil
}

type memConvRepo struct {
	byKey  map[string]*conversation.Conversation
	nextID int64
}

func (r *memConvRepo) GetOrCreateByKey(_ context.Context, conv *conversation.Conversation) (*conversation.Conversation, error) {
	if cur, ok := r.byKey[conv.ConversationKey]; ok {
		return cur, nil
	}
	stored := *conv
	r.nextID++
	stored.ID = r.nextID
	r.byKey[conv.ConversationKey] = &stored
	return &stored, nil
}

type memMessageRepo struct {
	rows       []*message.Message
	byProvider map[string]*message.Message
	nextID     int64
}

func (r *memMessageRepo) CreateIfAbsent(_ context.Context, m *message.Message) (bool, error) {
	if m.ProviderMessageID != nil {
		if _, ok := r.byProvider[*m.ProviderMessageID]; ok {
			return false, nil
		}
	}
	r.nextID++
	m.ID = r.nextID
	r.rows = append(r.rows, m)
	if m.ProviderMessageID != nil {
		r.byProvider[*m.ProviderMessageID] = m
	}
	return true, nil
}

func (r *memMessageRepo) UpdateStatusByProviderID(_ context.Context, providerMessageID, status string) error {
	if m, ok := r.byProvider[providerMessageID]; ok {
		m.Status = &status
	}
	return nil
}

type testApp struct {
	cfg      *config.Config
	contacts *memContactRepo
	convs    *memConvRepo
	messages *memMessageRepo
	app      *iris.Application
}

func newTestApp() *testApp {
	cfg := config.DefaultConfig()
	cfg.WhatsApp.Bridge.WebhookToken = "bridge-secret"
	cfg.WhatsApp.Cloud.AppSecret = "app-secret"
	cfg.WhatsApp.Cloud.VerifyToken = "verify-me"

	ta := &testApp{
		cfg:      cfg,
		contacts: &memContactRepo{byPhone: map[string]*contact.Contact{}},
		convs:    &memConvRepo{byKey: map[string]*conversation.Conversation{}},
		messages: &memMessageRepo{byProvider: map[string]*message.Message{}},
	}

	webhookSvc := service.NewWebhookService(ta.contacts, ta.convs, ta.messages, nil, nil, cfg)
	dispatchSvc := service.NewDispatchService(cfg)

	ta.app = iris.New()
	RegisterAPIRoutes(ta.app, cfg, webhookSvc, dispatchSvc)
	return ta
}

func agentToken(t *testing.T, cfg *config.Config) string {
	t.Helper()
	token, err := auth.GenerateToken(&cfg.JWT, 1, "agent@test.local")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode response %q: %v", raw, err)
	}
	return out
}

const bridgeWebhookBody = `{
	"event": "messages.upsert",
	"instance": "crm_instance",
	"data": {
		"key": {"id": "BAE5F5A632EAE722", "fromMe": false},
		"messageType": "text",
		"timestamp": 1735689600,
		"textMessage": {"text": "hi"},
		"sender": {"id": "5511987654321@c.us", "name": "X"},
		"chat": {"id": "5511987654321@c.us"}
	}
}`

func TestBridgeWebhookEndToEnd(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	raw := e.POST("/api/whatsapp/webhook").
		WithHeader("X-Webhook-Token", "bridge-secret").
		WithHeader("Content-Type", "application/json").
		WithBytes([]byte(bridgeWebhookBody)).
		Expect().Status(iris.StatusOK).
		Body().Raw()

	resp := decodeJSON(t, raw)
	if resp["success"] != true || resp["event"] != "messages.upsert" {
		t.Errorf("response = %v", resp)
	}

	if _, ok := ta.convs.byKey["whatsapp_crm_instance_5511987654321"]; !ok {
		t.Error("conversation not persisted")
	}
	if len(ta.messages.rows) != 1 || ta.messages.rows[0].Text != "hi" {
		t.Errorf("messages = %+v", ta.messages.rows)
	}
}

func TestBridgeWebhookRejectsMissingToken(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	e.POST("/api/whatsapp/webhook").
		WithHeader("Content-Type", "application/json").
		WithBytes([]byte(bridgeWebhookBody)).
		Expect().Status(iris.StatusUnauthorized)

	// 闸门拦下的请求不许碰存储
	if len(ta.messages.rows) != 0 || len(ta.contacts.byPhone) != 0 {
		t.Error("rejected request must not touch storage")
	}
}

func TestBridgeWebhookAcceptsBearerToken(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	e.POST("/api/whatsapp/webhook").
		WithHeader("Authorization", "Bearer bridge-secret").
		WithHeader("Content-Type", "application/json").
		WithBytes([]byte(bridgeWebhookBody)).
		Expect().Status(iris.StatusOK)
}

func TestCloudVerifyHandshake(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	raw := e.GET("/api/whatsapp/cloud/webhook").
		WithQuery("hub.mode", "subscribe").
		WithQuery("hub.verify_token", "verify-me").
		WithQuery("hub.challenge", "1158201444").
		Expect().Status(iris.StatusOK).
		Body().Raw()
	// challenge 必须原样回显
	if raw != "1158201444" {
		t.Errorf("challenge echo = %q", raw)
	}

	e.GET("/api/whatsapp/cloud/webhook").
		WithQuery("hub.mode", "subscribe").
		WithQuery("hub.verify_token", "wrong").
		WithQuery("hub.challenge", "1158201444").
		Expect().Status(iris.StatusForbidden)
}

func TestCloudWebhookSignature(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1", "changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "109876"},
				"messages": [{"from": "5511987654321", "id": "wamid.A1", "type": "text", "text": {"body": "ola"}}]
			}
		}]}]
	}`)

	// 签名盖在别的 body 上：401，且什么都不落库
	e.POST("/api/whatsapp/cloud/webhook").
		WithHeader("X-Hub-Signature-256", signBody("app-secret", []byte(`{"other":true}`))).
		WithHeader("Content-Type", "application/json").
		WithBytes(body).
		Expect().Status(iris.StatusUnauthorized)
	if len(ta.messages.rows) != 0 {
		t.Fatal("forged request must not persist anything")
	}

	// 正确签名：200 并落库
	e.POST("/api/whatsapp/cloud/webhook").
		WithHeader("X-Hub-Signature-256", signBody("app-secret", body)).
		WithHeader("Content-Type", "application/json").
		WithBytes(body).
		Expect().Status(iris.StatusOK)
	if len(ta.messages.rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(ta.messages.rows))
	}
	if _, ok := ta.convs.byKey["whatsapp_cloud_109876_5511987654321"]; !ok {
		t.Error("cloud conversation not persisted")
	}
}

func TestCloudWebhookMissingSecretFailsClosedInProduction(t *testing.T) {
	ta := newTestApp()
	ta.cfg.Env = "production"
	ta.cfg.WhatsApp.Cloud.AppSecret = ""

	// 路由要在配置改完后重新挂
	webhookSvc := service.NewWebhookService(ta.contacts, ta.convs, ta.messages, nil, nil, ta.cfg)
	app := iris.New()
	RegisterAPIRoutes(app, ta.cfg, webhookSvc, service.NewDispatchService(ta.cfg))
	e := httptest.New(t, app)

	e.POST("/api/whatsapp/cloud/webhook").
		WithHeader("Content-Type", "application/json").
		WithBytes([]byte(`{"object":"whatsapp_business_account","entry":[]}`)).
		Expect().Status(iris.StatusUnauthorized)
}

func TestSendRequiresAgentToken(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	e.POST("/api/whatsapp/send").
		WithHeader("Content-Type", "application/json").
		WithBytes([]byte(`{"phoneNumber":"5511987654321","message":"ola"}`)).
		Expect().Status(iris.StatusUnauthorized)
}

func TestSendValidation(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	token := agentToken(t, ta.cfg)
	raw := e.POST("/api/whatsapp/send").
		WithHeader("Authorization", "Bearer "+token).
		WithHeader("Content-Type", "application/json").
		WithBytes([]byte(`{"phoneNumber":"abc","message":""}`)).
		Expect().Status(iris.StatusBadRequest).
		Body().Raw()

	resp := decodeJSON(t, raw)
	fields, _ := resp["errors"].(map[string]any)
	if fields == nil {
		t.Fatalf("response = %v", resp)
	}
	if _, ok := fields["phoneNumber"]; !ok {
		t.Error("missing phoneNumber field error")
	}
	if _, ok := fields["message"]; !ok {
		t.Error("missing message field error")
	}
}

func TestSendTemplateStillValidatesMessageLength(t *testing.T) {
	ta := newTestApp()
	e := httptest.New(t, ta.app)

	// 带模板时正文可以为空，但超长正文照样要拦
	body, _ := json.Marshal(map[string]any{
		"phoneNumber":  "5511987654321",
		"templateName": "boas_vindas",
		"message":      strings.Repeat("a", 4097),
	})
	raw := e.POST("/api/whatsapp/send").
		WithHeader("Authorization", "Bearer "+agentToken(t, ta.cfg)).
		WithHeader("Content-Type", "application/json").
		WithBytes(body).
		Expect().Status(iris.StatusBadRequest).
		Body().Raw()

	resp := decodeJSON(t, raw)
	fields, _ := resp["errors"].(map[string]any)
	if fields == nil {
		t.Fatalf("response = %v", resp)
	}
	if _, ok := fields["message"]; !ok {
		t.Error("missing message field error for oversized template body")
	}
}
