package model

import (
	"time"
)

// BonusConfig 奖金费率表
// 按 (reward_type, level) 存一条费率。daily/sponsor/center 类 level 固定为 0，
// daily_matching 的 level 为 1..15。
// 存储值允许是小数费率或百分数（历史数据两种都有），读取侧统一归一化：
// 超过 1 的按百分数除以 100。归一化只发生在加载处，使用侧一律拿小数费率。
type BonusConfig struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RewardType string    `gorm:"type:varchar(20);uniqueIndex:uk_bonus_rate;not null" json:"reward_type"`
	Level      int       `gorm:"uniqueIndex:uk_bonus_rate;not null;default:0" json:"level"`
	Rate       float64   `gorm:"not null;default:0" json:"rate"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BonusConfig) TableName() string {
	return "bonus_config"
}

// Setting 通用设置表（外部管理端维护，引擎只消费个别键）
type Setting struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"column:setting_key;type:varchar(64);uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"column:setting_value;type:varchar(256);not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

const (
	// SettingRewardDays 每日收益开放的星期几，逗号分隔（0=周日 .. 6=周六）
	SettingRewardDays = "reward_days"
	// SettingCenterReleaseWeek 中心手续费最近一次释放的 ISO 周（如 2026-W35），周释放批次的一周一次闸门
	SettingCenterReleaseWeek = "center_release_week"
)
