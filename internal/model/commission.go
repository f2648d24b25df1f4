package model

import (
	"time"
)

// Commission 对碰奖检查点（每个会员一行）
// left_pv / right_pv 是最近一次批次看到的左右子树 PV 合计，
// matched_pv 即 min(left_pv, right_pv)，paid 是已发放到的对碰量。
// PV 只会累加，所以四个字段都应当单调不减；出现倒退说明底层数据被改动，
// 批次记告警并跳过，不回退检查点。
type Commission struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID  int64     `gorm:"uniqueIndex;not null" json:"member_id"`
	LeftPV    int64     `gorm:"column:left_pv;not null;default:0" json:"left_pv"`
	RightPV   int64     `gorm:"column:right_pv;not null;default:0" json:"right_pv"`
	MatchedPV int64     `gorm:"column:matched_pv;not null;default:0" json:"matched_pv"`
	Paid      int64     `gorm:"not null;default:0" json:"paid"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Commission) TableName() string {
	return "commissions"
}
