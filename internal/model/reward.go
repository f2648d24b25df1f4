package model

import (
	"fmt"
	"time"
)

// ============================================================
// 奖金类型常量
// ============================================================

const (
	RewardTypeDaily           = "daily"            // 每日收益
	RewardTypeDailyMatching   = "daily_matching"   // 推荐匹配收益（最多 15 级）
	RewardTypeSponsor         = "sponsor"          // 后援（对碰）奖
	RewardTypeCenter          = "center"           // 中心手续费
	RewardTypeCenterRecommend = "center_recommend" // 中心推荐费
	RewardTypeReferral        = "referral"         // 直推奖
	RewardTypeAdjust          = "adjust"           // 人工调整
)

// CountedRewardTypes 计入会员奖金上限池的类型。
// 中心类手续费走独立的周释放，不占用上限。
var CountedRewardTypes = []string{
	RewardTypeDaily,
	RewardTypeDailyMatching,
	RewardTypeSponsor,
	RewardTypeAdjust,
}

// IsCenterRewardType 中心类手续费：写入时不计余额，走周释放
func IsCenterRewardType(t string) bool {
	return t == RewardTypeCenter || t == RewardTypeCenterRecommend
}

// ============================================================
// 奖金流水
// ============================================================

// RewardLog 奖金流水表
// 只追加，不修改，不删除。
// (member_id, type, source, ref_id, reward_date) 是幂等键：同一奖金事件
// 最多存在一行，重复批次命中唯一索引直接跳过，不视为错误。
// 金额为 0 的行（额度耗尽、被冻结）同样占用幂等键，防止后续补发。
type RewardLog struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID   int64  `gorm:"uniqueIndex:uk_reward_event;index;not null" json:"member_id"`
	Type       string `gorm:"type:varchar(20);uniqueIndex:uk_reward_event;not null" json:"type"`
	Source     int64  `gorm:"uniqueIndex:uk_reward_event;not null" json:"source"`  // 来源会员或购买 ID
	RefID      int64  `gorm:"uniqueIndex:uk_reward_event;not null" json:"ref_id"`  // 关联的购买槽位
	RewardDate string `gorm:"type:varchar(10);uniqueIndex:uk_reward_event;index;not null" json:"reward_date"` // 结算日 YYYY-MM-DD
	Amount     int64  `gorm:"not null" json:"amount"`
	Memo       string `gorm:"type:varchar(256)" json:"memo"`
	// 中心类手续费写入时为 false，周释放批次置 true 并计入余额
	IsReleased bool      `gorm:"not null;default:0" json:"is_released"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (RewardLog) TableName() string {
	return "rewards_log"
}

// DupKey 运行期去重集合使用的幂等键字符串
func (r *RewardLog) DupKey() string {
	return RewardDupKey(r.MemberID, r.Type, r.Source, r.RefID, r.RewardDate)
}

// RewardDupKey 拼出与 uk_reward_event 唯一索引同构的键
func RewardDupKey(memberID int64, rewardType string, source, refID int64, rewardDate string) string {
	return fmt.Sprintf("%d:%s:%d:%d:%s", memberID, rewardType, source, refID, rewardDate)
}

// RewardAllocation 槽位扣减明细
// 一条流水可能跨多个槽位支付，这里记录每个槽位实际扣减的容量，
// 槽位剩余容量 = 槽位上限 − 该槽位的扣减合计。
type RewardAllocation struct {
	ID          int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RewardLogID int64 `gorm:"index;not null" json:"reward_log_id"`
	MemberID    int64 `gorm:"index;not null" json:"member_id"`
	PurchaseID  int64 `gorm:"index;not null" json:"purchase_id"`
	Amount      int64 `gorm:"not null" json:"amount"`
}

func (RewardAllocation) TableName() string {
	return "reward_allocations"
}

// RewardDailySummary 每日汇总缓存表
// 外部看板读取；派生数据，引擎可随时整日重建，不是事实来源。
type RewardDailySummary struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID   int64     `gorm:"uniqueIndex:uk_summary;not null" json:"member_id"`
	RewardDate string    `gorm:"type:varchar(10);uniqueIndex:uk_summary;not null" json:"reward_date"`
	Type       string    `gorm:"type:varchar(20);uniqueIndex:uk_summary;not null" json:"type"`
	Amount     int64     `gorm:"not null" json:"amount"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RewardDailySummary) TableName() string {
	return "reward_daily_summary"
}
