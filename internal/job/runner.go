package job

import (
	"context"
	"fmt"
	"time"

	"rewardengine/internal/config"

	"gorm.io/gorm"
)

// 对外可选择的任务类型（CLI 与 HTTP 触发共用）
const (
	JobTypeAll      = "all"
	JobTypeDaily    = "daily"
	JobTypeReferral = "referral"
	JobTypeSponsor  = "sponsor"
)

// Runner 统一的批次入口：调度器、CLI、HTTP 触发都经由这里分发
type Runner struct {
	cfg     *config.Config
	daily   *DailyRewardJob
	sponsor *SponsorRewardJob
	center  *CenterFeeJob
	release *CenterReleaseJob
}

func NewRunner(db *gorm.DB, cfg *config.Config) *Runner {
	return &Runner{
		cfg:     cfg,
		daily:   NewDailyRewardJob(db, cfg),
		sponsor: NewSponsorRewardJob(db, cfg),
		center:  NewCenterFeeJob(db, cfg),
		release: NewCenterReleaseJob(db, cfg),
	}
}

// RunJob 执行指定类型的批次。
// all 的执行顺序：referral（前一日）→ daily（当日）→ sponsor（当日）。
// 三类批次落盘的流水 type 互不重叠，先后顺序不影响正确性。
func (r *Runner) RunJob(ctx context.Context, jobType, rewardDate string) error {
	switch jobType {
	case JobTypeDaily:
		return r.daily.Run(ctx, rewardDate)
	case JobTypeSponsor:
		return r.sponsor.Run(ctx, rewardDate)
	case JobTypeReferral:
		return r.center.Run(ctx, rewardDate)
	case JobTypeAll:
		// 补跑历史结算日时，中心手续费取该日的前一日，与每日调度的口径一致
		referralDate, err := r.referralDateOf(rewardDate)
		if err != nil {
			return err
		}
		if err := r.center.Run(ctx, referralDate); err != nil {
			return err
		}
		if err := r.daily.Run(ctx, rewardDate); err != nil {
			return err
		}
		return r.sponsor.Run(ctx, rewardDate)
	default:
		return fmt.Errorf("未知任务类型: %q（可选 all|daily|referral|sponsor）", jobType)
	}
}

// referralDateOf all 批次里中心手续费的目标日：指定日的前一日，空串透传（任务内取"昨天"）
func (r *Runner) referralDateOf(rewardDate string) (string, error) {
	if rewardDate == "" {
		return "", nil
	}
	day, err := ParseRewardDate(rewardDate, LocationOf(r.cfg))
	if err != nil {
		return "", err
	}
	return day.AddDate(0, 0, -1).Format(rewardDateLayout), nil
}

// RunCenterRelease 周释放（单独入口，调度器每次触发时都会尝试，闸门在任务内）
func (r *Runner) RunCenterRelease(ctx context.Context) error {
	return r.release.Run(ctx, time.Now())
}
