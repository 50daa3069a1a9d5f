package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/contact"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/conversation"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/message"
	"github.com/Eveneto/sistema-crm-simples-sub000/internal/whatsapp"
)

// WebhookService 把归一化后的上游事件解析成 联系人→会话→消息 三步落库。
// 所有写操作都依赖存储层的唯一键/upsert 语义，同一号码的事件并发到达
// （服务可能水平扩容）也不会写出重复行
type WebhookService struct {
	contacts contact.Repository
	convs    conversation.Repository
	messages message.Repository
	// dedup 可为 nil：Redis 只是快路径，幂等靠数据库唯一键兜底
	dedup *DedupCache
	// publisher 可为 nil：MQ 广播失败不影响回调结果
	publisher *EventPublisher
	cfg       *config.Config
}

// NewWebhookService 构建回调处理服务。依赖全部显式传入，测试时可以换假实现
func NewWebhookService(
	contacts contact.Repository,
	convs conversation.Repository,
	messages message.Repository,
	dedup *DedupCache,
	publisher *EventPublisher,
	cfg *config.Config,
) *WebhookService {
	return &WebhookService{
		contacts:  contacts,
		convs:     convs,
		messages:  messages,
		dedup:     dedup,
		publisher: publisher,
		cfg:       cfg,
	}
}

// ProcessBridgeEvent 处理桥接回调。单条坏数据按校验失败跳过（返回 nil，
// 上游拿到 200 不再重投）；存储故障返回错误，让上游按 500 重投整个事件
func (s *WebhookService) ProcessBridgeEvent(ctx context.Context, ev *whatsapp.BridgeEvent) error {
	GetMonitor().RecordWebhookEvent()

	instance := ev.Instance
	if instance == "" {
		instance = s.cfg.WhatsApp.Bridge.Instance
	}

	switch ev.Event {
	case whatsapp.BridgeEventMessagesUpsert:
		m, err := whatsapp.NormalizeBridgeMessage(ev.Data)
		if err != nil {
			GetMonitor().RecordSkippedItem()
			log.Printf("bridge message skipped: %v", err)
			return nil
		}
		return s.handleMessage(ctx, conversation.ChannelWhatsApp, instance, m)

	case whatsapp.BridgeEventMessagesUpdate:
		st, err := whatsapp.NormalizeBridgeStatus(ev.Data)
		if err != nil {
			GetMonitor().RecordSkippedItem()
			log.Printf("bridge status skipped: %v", err)
			return nil
		}
		return s.applyStatus(ctx, st)

	case whatsapp.BridgeEventContactsUpsert:
		phone, name, err := whatsapp.NormalizeBridgeContact(ev.Data)
		if err != nil {
			GetMonitor().RecordSkippedItem()
			log.Printf("bridge contact skipped: %v", err)
			return nil
		}
		// 联系人同步只刷联系人，不建会话和消息
		_, err = s.contacts.UpsertByPhone(ctx, &contact.Contact{
			Phone:         phone,
			Name:          name,
			Instance:      instance,
			LastMessageAt: time.Now(),
		})
		if err != nil {
			GetMonitor().RecordDBError()
			return fmt.Errorf("upsert contact: %w", err)
		}
		return nil

	default:
		// 未识别事件：确认即忽略，桥接会推各种我们不关心的事件
		return nil
	}
}

// ProcessCloudPayload 处理 Cloud API 回调。归一化层已经把坏条目剔掉，
// 这里任何一条的存储失败都让整包报错，靠 Meta 的重投机制补偿
func (s *WebhookService) ProcessCloudPayload(ctx context.Context, p *whatsapp.CloudWebhookPayload) error {
	GetMonitor().RecordWebhookEvent()

	for i := range p.Entry {
		for j := range p.Entry[i].Changes {
			ch := &p.Entry[i].Changes[j]
			if ch.Field != "" && ch.Field != "messages" {
				continue
			}
			msgs, sts := whatsapp.NormalizeCloudValue(&ch.Value)
			instance := ch.Value.Metadata.PhoneNumberID
			for _, m := range msgs {
				// Cloud API 的回调里没有「本方发出」的标记，这里收到的
				// 都是消费者发起的消息，一律按 incoming 处理
				m.FromMe = false
				if err := s.handleMessage(ctx, conversation.ChannelWhatsAppCloud, instance, m); err != nil {
					return err
				}
			}
			for _, st := range sts {
				if err := s.applyStatus(ctx, st); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RecordOutbound 出站发送成功后回写本地 outgoing 消息，供后续状态回执关联。
// providerMessageID 为空时照常落库，只是没有去重键
func (s *WebhookService) RecordOutbound(ctx context.Context, channelType, instance, toPhone, text, providerMessageID, messageType string) error {
	convID, err := s.resolveConversation(ctx, channelType, instance, &whatsapp.NormalizedMessage{
		From:      toPhone,
		Timestamp: time.Now(),
	})
	if err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("resolve conversation: %w", err)
	}

	if messageType == "" {
		messageType = whatsapp.TypeText
	}
	status := message.StatusSent
	row := &message.Message{
		ConversationID: convID,
		Text:           text,
		FromNumber:     instance,
		ToNumber:       toPhone,
		Direction:      message.DirectionOutgoing,
		MessageType:    messageType,
		Status:         &status,
		CreatedAt:      time.Now(),
	}
	if providerMessageID != "" {
		row.ProviderMessageID = &providerMessageID
	}
	if _, err := s.messages.CreateIfAbsent(ctx, row); err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("persist outbound message: %w", err)
	}
	return nil
}

// handleMessage 一条归一化消息的完整落库路径
func (s *WebhookService) handleMessage(ctx context.Context, channelType, instance string, m *whatsapp.NormalizedMessage) error {
	// Redis 快路径：明显的重投不用走 MySQL。Redis 故障退回数据库唯一键
	if s.dedup != nil && m.ProviderMessageID != "" {
		if dup, err := s.dedup.Seen(ctx, m.ProviderMessageID); err == nil && dup {
			GetMonitor().RecordDedupHit()
			return nil
		}
	}

	convID, err := s.resolveConversation(ctx, channelType, instance, m)
	if err != nil {
		GetMonitor().RecordDBError()
		// 联系人/会话失败直接中止：绝不落一条没有会话归属的消息
		return fmt.Errorf("resolve conversation: %w", err)
	}

	direction := message.DirectionIncoming
	if m.FromMe {
		direction = message.DirectionOutgoing
	}
	// created_at 用上游自带的时间，重投同一事件得到的行内容一致
	createdAt := m.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := &message.Message{
		ConversationID: convID,
		Text:           m.Text,
		FromNumber:     m.From,
		ToNumber:       instance,
		Direction:      direction,
		MessageType:    m.Type,
		Metadata:       encodeMetadata(m),
		CreatedAt:      createdAt,
	}
	if m.FromMe {
		row.FromNumber, row.ToNumber = instance, m.From
	}
	if m.ProviderMessageID != "" {
		id := m.ProviderMessageID
		row.ProviderMessageID = &id
	}

	created, err := s.messages.CreateIfAbsent(ctx, row)
	if err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("persist message: %w", err)
	}
	// 落库成功才写缓存键。之前任何一步失败都不写，上游按 500 重投时
	// 快路径不会把事件当重复吞掉
	if s.dedup != nil && m.ProviderMessageID != "" {
		if err := s.dedup.Mark(ctx, m.ProviderMessageID); err != nil {
			log.Printf("dedup mark failed: %v", err)
		}
	}
	if !created {
		return nil
	}
	GetMonitor().RecordStoredMessage()

	if s.publisher != nil {
		ev := &MessageStoredEvent{
			ConversationID: convID,
			MessageID:      row.ID,
			Phone:          m.From,
			Text:           m.Text,
			Direction:      direction,
			ChannelType:    channelType,
		}
		if err := s.publisher.PublishMessageStored(ctx, ev); err != nil {
			GetMonitor().RecordMQError()
			log.Printf("publish message event failed: %v", err)
		}
	}
	return nil
}

// resolveConversation 联系人 upsert + 会话 get-or-create，返回会话 ID。
// 联系人失败直接返回错误中止整个事件
func (s *WebhookService) resolveConversation(ctx context.Context, channelType, instance string, m *whatsapp.NormalizedMessage) (int64, error) {
	lastAt := m.Timestamp
	if lastAt.IsZero() {
		lastAt = time.Now()
	}
	stored, err := s.contacts.UpsertByPhone(ctx, &contact.Contact{
		Phone:         m.From,
		Name:          m.FromName,
		Instance:      instance,
		LastMessageAt: lastAt,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert contact: %w", err)
	}

	title := stored.Name
	if title == "" {
		title = m.From
	}
	conv, err := s.convs.GetOrCreateByKey(ctx, &conversation.Conversation{
		ConversationKey: conversation.Key(channelType, instance, m.From),
		ContactID:       stored.ID,
		Title:           title,
		ChannelType:     channelType,
	})
	if err != nil {
		return 0, fmt.Errorf("get or create conversation: %w", err)
	}
	return conv.ID, nil
}

// applyStatus 应用一条状态回执。消息不存在时静默忽略（回执可能先于
// 消息落库，或指向不归本系统管的消息）；乱序回执最后写入生效，
// read 被晚到的 delivered 覆盖属于已知取舍，不在这里纠正
func (s *WebhookService) applyStatus(ctx context.Context, st *whatsapp.NormalizedStatus) error {
	if st.ProviderMessageID == "" {
		return nil
	}
	if err := s.messages.UpdateStatusByProviderID(ctx, st.ProviderMessageID, st.Status); err != nil {
		GetMonitor().RecordDBError()
		return fmt.Errorf("update message status: %w", err)
	}
	GetMonitor().RecordStatusUpdate()
	return nil
}

// encodeMetadata 把渠道附加信息压成 JSON 文本存进消息行
func encodeMetadata(m *whatsapp.NormalizedMessage) string {
	meta := map[string]any{}
	for k, v := range m.Context {
		meta[k] = v
	}
	if m.MediaID != "" {
		meta["media_id"] = m.MediaID
	}
	if m.MediaCaption != "" {
		meta["media_caption"] = m.MediaCaption
	}
	if m.MediaFilename != "" {
		meta["media_filename"] = m.MediaFilename
	}
	if m.QuotedMessageID != "" {
		meta["quoted_message_id"] = m.QuotedMessageID
	}
	if len(meta) == 0 {
		return ""
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(body)
}
