package repository

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"rewardengine/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetValue 读设置项；不存在返回 ("", false)，缺失由调用方用默认值兜底
func (r *SettingRepository) GetValue(ctx context.Context, key string) (string, bool, error) {
	var setting model.Setting
	err := r.db.WithContext(ctx).
		Where("setting_key = ?", key).
		First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return setting.Value, true, nil
}

// SetValue 写设置项（幂等 upsert）
func (r *SettingRepository) SetValue(ctx context.Context, tx *gorm.DB, key, value string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"setting_value"}),
		}).
		Create(&model.Setting{Key: key, Value: value}).Error
}

// GetRewardDays 每日收益开放的星期集合。
// 设置缺失或整条解析失败时放行全周（安全默认：不静默停发），记日志不报错。
func (r *SettingRepository) GetRewardDays(ctx context.Context) (map[int]bool, error) {
	value, ok, err := r.GetValue(ctx, model.SettingRewardDays)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Printf("[Setting] %s 未配置，默认全周开放", model.SettingRewardDays)
		return fullWeek(), nil
	}

	days := make(map[int]bool)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := strconv.Atoi(part)
		if err != nil || day < 0 || day > 6 {
			log.Printf("[Setting] %s 含非法值 %q，忽略", model.SettingRewardDays, part)
			continue
		}
		days[day] = true
	}
	if len(days) == 0 {
		log.Printf("[Setting] %s=%q 解析后为空，默认全周开放", model.SettingRewardDays, value)
		return fullWeek(), nil
	}
	return days, nil
}

func fullWeek() map[int]bool {
	week := make(map[int]bool, 7)
	for d := 0; d <= 6; d++ {
		week[d] = true
	}
	return week
}
