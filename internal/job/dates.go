package job

import (
	"fmt"
	"log"
	"time"

	"rewardengine/internal/config"
)

const rewardDateLayout = "2006-01-02"

// LocationOf 结算时区；加载失败退回 UTC 并告警（不中断批次）
func LocationOf(cfg *config.Config) *time.Location {
	loc, err := time.LoadLocation(cfg.Business.Timezone)
	if err != nil {
		log.Printf("[Job] 时区 %q 加载失败，退回 UTC: %v", cfg.Business.Timezone, err)
		return time.UTC
	}
	return loc
}

// RewardDateOf 某时刻在结算时区下的结算日
func RewardDateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(rewardDateLayout)
}

// ParseRewardDate 校验并解析结算日，返回该日零点（结算时区）
func ParseRewardDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(rewardDateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("结算日 %q 非法（要求 YYYY-MM-DD）: %w", date, err)
	}
	return t, nil
}

// DayWindow 结算日对应的 [当日零点, 次日零点) 时间窗
func DayWindow(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := ParseRewardDate(date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}
