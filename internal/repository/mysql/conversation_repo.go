package mysql

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/conversation"
)

type conversationRepo struct {
	db *gorm.DB
}

// NewConversationRepository 创建会话仓储
func NewConversationRepository(db *gorm.DB) conversation.Repository {
	return &conversationRepo{db: db}
}

// GetOrCreateByKey 按唯一键取或建会话。并发首次触达同一会话时，
// 落败的一方在唯一键上 DoNothing，随后统一按键重查拿到已存在的行
func (r *conversationRepo) GetOrCreateByKey(ctx context.Context, conv *conversation.Conversation) (*conversation.Conversation, error) {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_key"}},
		DoNothing: true,
	}).Create(conv).Error; err != nil {
		return nil, err
	}
	var out conversation.Conversation
	if err := r.db.WithContext(ctx).Where("conversation_key = ?", conv.ConversationKey).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
