package message

import (
	"context"
	"time"
)

// 消息方向
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// 投递状态（与 Cloud API 回执字段一致）
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message 消息模型。每个上游事件只建一行，落库后只有 status 会被更新
type Message struct {
	ID             int64  `gorm:"primaryKey"`
	ConversationID int64  `gorm:"index;not null"`
	Text           string `gorm:"type:text"`
	FromNumber     string `gorm:"size:32"`
	ToNumber       string `gorm:"size:32"`
	Direction      string `gorm:"size:16;not null"`
	MessageType    string `gorm:"size:32"`
	// ProviderMessageID 上游消息 ID，去重键；本地合成的消息没有上游 ID，留空
	ProviderMessageID *string `gorm:"uniqueIndex;size:191"`
	Status            *string `gorm:"size:16"`
	Metadata          string  `gorm:"type:text"`
	CreatedAt         time.Time
}

// Repository 消息仓储接口
type Repository interface {
	// CreateIfAbsent 幂等插入：provider_message_id 已存在时按无事发生处理，
	// 返回本次是否真正建了行
	CreateIfAbsent(ctx context.Context, m *Message) (bool, error)
	// UpdateStatusByProviderID 按上游消息 ID 更新状态；消息不存在时不报错
	// （状态回执可能先于消息落库，或指向不归本系统管的消息）
	UpdateStatusByProviderID(ctx context.Context, providerMessageID, status string) error
}
