package conversation

import (
	"context"
	"time"
)

// 渠道类型
const (
	ChannelWhatsApp      = "whatsapp"
	ChannelWhatsAppCloud = "whatsapp_cloud"
)

// Conversation 会话模型。首条消息触达时懒创建，conversation_key 唯一，
// 本层从不删除会话
type Conversation struct {
	ID int64 `gorm:"primaryKey"`
	// ConversationKey 渠道+实例+手机号的确定性唯一键，例如
	// whatsapp_crm_instance_5511987654321
	ConversationKey string `gorm:"uniqueIndex;size:191;not null"`
	ContactID       int64  `gorm:"index;not null"`
	Title           string `gorm:"size:128"`
	ChannelType     string `gorm:"size:32;not null"`
	Metadata        string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key 生成会话唯一键
func Key(channelType, instance, phone string) string {
	return channelType + "_" + instance + "_" + phone
}

// Repository 会话仓储接口
type Repository interface {
	// GetOrCreateByKey 按唯一键取或建。并发创建冲突由存储层唯一约束兜底，
	// 实现侧不得用先查再插的写法
	GetOrCreateByKey(ctx context.Context, conv *Conversation) (*Conversation, error)
}
