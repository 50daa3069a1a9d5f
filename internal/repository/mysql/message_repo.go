package mysql

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/message"
)

type messageRepo struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息仓储
func NewMessageRepository(db *gorm.DB) message.Repository {
	return &messageRepo{db: db}
}

// CreateIfAbsent 幂等插入消息。上游可能重投同一事件，靠
// provider_message_id 的唯一键吸收重复
func (r *messageRepo) CreateIfAbsent(ctx context.Context, m *message.Message) (bool, error) {
	// 本地合成的消息没有上游 ID，不走去重键
	if m.ProviderMessageID == nil || *m.ProviderMessageID == "" {
		m.ProviderMessageID = nil
		if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_message_id"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateStatusByProviderID 按上游消息 ID 更新投递状态。匹配不到行时按成功
// 处理：状态回执可能先到，也可能指向别的系统发的消息。状态本身是
// 最后写入生效，不校验 delivered/read 的先后顺序（上游本就不保证有序）
func (r *messageRepo) UpdateStatusByProviderID(ctx context.Context, providerMessageID, status string) error {
	return r.db.WithContext(ctx).Model(&message.Message{}).
		Where("provider_message_id = ?", providerMessageID).
		Update("status", status).Error
}
