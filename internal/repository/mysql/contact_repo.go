package mysql

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/datamodels/contact"
)

type contactRepo struct {
	db *gorm.DB
}

// NewContactRepository 创建联系人仓储
func NewContactRepository(db *gorm.DB) contact.Repository {
	return &contactRepo{db: db}
}

// UpsertByPhone 一条语句完成插入或更新。同一号码的事件可能在多个连接上
// 并发到达，靠数据库的唯一键冲突处理，不做先查后写
func (r *contactRepo) UpsertByPhone(ctx context.Context, c *contact.Contact) (*contact.Contact, error) {
	cols := []string{"instance", "last_message_at", "updated_at"}
	// 事件没带显示名时不覆盖已有的名字
	if c.Name != "" {
		cols = append(cols, "name")
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(c).Error; err != nil {
		return nil, err
	}
	// 冲突更新时 gorm 不回填主键，按手机号再查一次
	var out contact.Contact
	if err := r.db.WithContext(ctx).Where("phone = ?", c.Phone).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
