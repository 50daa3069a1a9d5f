package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/conversation"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/whatsapp"
)

// DispatchRequest 出站发送请求（号码在发送前统一归一化）
type DispatchRequest struct {
	PhoneNumber string
	Message     string
	// Instance 桥接实例名；为空时用配置里的默认实例
	Instance  string
	MediaURL  string
	MediaType string
	Caption   string
	Filename  string
	// 模板消息只有 Cloud API 支持；在消息窗口外主动触达只能走模板，
	// 这属于协议事实，窗口合规不在本层校验
	TemplateName     string
	TemplateLanguage string
}

// DispatchResult 发送成功后的结果；ProviderMessageID 供调用方回写本地
// outgoing 消息，用于后续状态回执关联
type DispatchResult struct {
	ProviderMessageID string
	ChannelType       string
	Instance          string
}

// DispatchService 出站消息派发。同步 HTTP 调用第三方，客户端带固定超时，
// 不会拖住接收回调的请求路径；上游拒绝时返回 DispatchError，不在
// 内部重试
type DispatchService struct {
	wa         *config.WhatsAppConfig
	httpClient *http.Client
}

// NewDispatchService 构建派发服务
func NewDispatchService(cfg *config.Config) *DispatchService {
	return &DispatchService{
		wa: &cfg.WhatsApp,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Send 按配置选择上游发送。模板消息只能走 Cloud API；
// 其余优先桥接实例，桥接未配置时走 Cloud API
func (s *DispatchService) Send(ctx context.Context, req *DispatchRequest) (*DispatchResult, error) {
	GetMonitor().RecordDispatchRequest()

	to := whatsapp.NormalizeDestination(req.PhoneNumber, s.wa.DefaultCountryCode)

	if req.TemplateName != "" {
		if !s.cloudConfigured() {
			return nil, errors.New("template messages require the cloud api upstream")
		}
		return s.sendCloud(ctx, to, req)
	}
	if s.bridgeConfigured() {
		return s.sendBridge(ctx, to, req)
	}
	if s.cloudConfigured() {
		return s.sendCloud(ctx, to, req)
	}
	return nil, errors.New("no whatsapp upstream configured")
}

func (s *DispatchService) bridgeConfigured() bool {
	return s.wa.Bridge.BaseURL != "" && s.wa.Bridge.Instance != ""
}

func (s *DispatchService) cloudConfigured() bool {
	return s.wa.Cloud.BaseURL != "" && s.wa.Cloud.PhoneNumberID != ""
}

// sendBridge 走自建桥接服务发送
func (s *DispatchService) sendBridge(ctx context.Context, to string, req *DispatchRequest) (*DispatchResult, error) {
	instance := req.Instance
	if instance == "" {
		instance = s.wa.Bridge.Instance
	}

	var url string
	var payload any
	if req.MediaURL != "" {
		mediaType := req.MediaType
		if mediaType == "" {
			mediaType = whatsapp.TypeImage
		}
		caption := req.Caption
		if caption == "" {
			caption = req.Message
		}
		url = fmt.Sprintf("%s/message/sendMedia/%s", s.wa.Bridge.BaseURL, instance)
		payload = map[string]any{
			"number": to,
			"mediaMessage": map[string]any{
				"mediatype": mediaType,
				"caption":   caption,
				"media":     req.MediaURL,
			},
		}
	} else {
		url = fmt.Sprintf("%s/message/sendText/%s", s.wa.Bridge.BaseURL, instance)
		payload = map[string]any{
			"number": to,
			"text":   req.Message,
		}
	}

	var resp struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		MessageID string `json:"messageId"`
	}
	headers := map[string]string{"apikey": s.wa.Bridge.APIKey}
	if err := s.postJSON(ctx, whatsapp.ProviderBridge, url, headers, payload, &resp); err != nil {
		return nil, err
	}

	id := resp.Key.ID
	if id == "" {
		id = resp.MessageID
	}
	return &DispatchResult{
		ProviderMessageID: id,
		ChannelType:       conversation.ChannelWhatsApp,
		Instance:          instance,
	}, nil
}

// sendCloud 走 Meta Cloud API 发送，请求体按 type 区分
func (s *DispatchService) sendCloud(ctx context.Context, to string, req *DispatchRequest) (*DispatchResult, error) {
	url := fmt.Sprintf("%s/%s/%s/messages", s.wa.Cloud.BaseURL, s.wa.Cloud.Version, s.wa.Cloud.PhoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
	}
	switch {
	case req.TemplateName != "":
		lang := req.TemplateLanguage
		if lang == "" {
			lang = "pt_BR"
		}
		payload["type"] = "template"
		payload["template"] = map[string]any{
			"name":     req.TemplateName,
			"language": map[string]string{"code": lang},
		}
	case req.MediaURL != "":
		mediaType := req.MediaType
		if !validCloudMediaType(mediaType) {
			mediaType = whatsapp.TypeImage
		}
		media := map[string]any{"link": req.MediaURL}
		if req.Caption != "" && mediaType != whatsapp.TypeAudio {
			media["caption"] = req.Caption
		}
		if req.Filename != "" && mediaType == whatsapp.TypeDocument {
			media["filename"] = req.Filename
		}
		payload["type"] = mediaType
		payload[mediaType] = media
	default:
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": req.Message}
	}

	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	headers := map[string]string{"Authorization": "Bearer " + s.wa.Cloud.AccessToken}
	if err := s.postJSON(ctx, whatsapp.ProviderCloud, url, headers, payload, &resp); err != nil {
		return nil, err
	}

	var id string
	if len(resp.Messages) > 0 {
		id = resp.Messages[0].ID
	}
	return &DispatchResult{
		ProviderMessageID: id,
		ChannelType:       conversation.ChannelWhatsAppCloud,
		Instance:          s.wa.Cloud.PhoneNumberID,
	}, nil
}

// postJSON 发 JSON 请求；非 2xx 统一转成带上游状态码和响应体的
// DispatchError，绝不吞掉
func (s *DispatchService) postJSON(ctx context.Context, provider, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		GetMonitor().RecordDispatchError()
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		GetMonitor().RecordDispatchError()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return &DispatchError{Provider: provider, Status: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s response: %w", provider, err)
		}
	}
	return nil
}

func validCloudMediaType(t string) bool {
	switch t {
	case whatsapp.TypeImage, whatsapp.TypeVideo, whatsapp.TypeAudio, whatsapp.TypeDocument:
		return true
	}
	return false
}
