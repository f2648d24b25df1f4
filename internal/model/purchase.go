package model

import (
	"time"
)

const (
	PurchaseTypeNormal = "normal"
	PurchaseTypeBcode  = "bcode"

	PurchaseStatusPending  = "pending"
	PurchaseStatusApproved = "approved" // 唯一参与奖金计算的状态
	PurchaseStatusRejected = "rejected"
)

// Purchase 购买记录（奖金分配的"槽位"）
// 审批通过后不可变，每一条 approved 购买就是 FIFO 分配器里的一个独立容量槽。
// 槽位顺序以主键 ID 为准（即创建顺序），不使用时间戳，避免时钟偏移破坏确定性。
type Purchase struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID  int64     `gorm:"index;not null" json:"member_id"`
	PV        int64     `gorm:"column:pv;not null" json:"pv"` // 点值，奖金计算基数
	Type      string    `gorm:"type:varchar(16);not null" json:"type"`
	Status    string    `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Purchase) TableName() string {
	return "purchases"
}
