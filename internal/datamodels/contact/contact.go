package contact

import (
	"context"
	"time"
)

// Contact 联系人模型。按手机号唯一，由 WhatsApp 事件自动创建和刷新，
// 本层只增改、从不删除
type Contact struct {
	ID    int64  `gorm:"primaryKey"`
	Phone string `gorm:"uniqueIndex;size:32;not null"`
	Name  string `gorm:"size:128"`
	// Instance 来源实例/渠道标识（桥接实例名或 Cloud API phone_number_id）
	Instance      string `gorm:"size:64"`
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository 联系人仓储接口。并发到达的同号码事件依赖存储层 upsert 语义，
// 所以只暴露一个写操作，不提供先查后写的接口
type Repository interface {
	// UpsertByPhone 插入或按手机号更新，返回库里的最终行（含主键）
	UpsertByPhone(ctx context.Context, c *Contact) (*Contact, error)
}
