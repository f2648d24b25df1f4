package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"rewardengine/internal/config"
	"rewardengine/internal/infrastructure/lock"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Scheduler 每日定时触发器
//
// 【关键点】同一 (任务, 结算日) 不允许并发执行：批次内的"读流水再去重"
// 不是跨进程原子的，必须靠外部运行锁挡住第二个实例。锁按 (job, date)
// 维度加在 Redis 上，多实例部署时只有拿到锁的那个真正跑批。
type Scheduler struct {
	cfg         *config.Config
	redisClient *redis.Client
	runner      *Runner
	stopCh      chan struct{}
	interval    time.Duration
}

func NewScheduler(cfg *config.Config, redisClient *redis.Client, runner *Runner) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		redisClient: redisClient,
		runner:      runner,
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("[Scheduler] 调度器启动: 触发时刻=每日 %02d 时（%s）",
		s.cfg.Business.ScheduleHour, s.cfg.Business.Timezone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler] 收到停止信号，调度器退出")
			return
		case <-s.stopCh:
			log.Println("[Scheduler] 调度器停止")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) tick(ctx context.Context) {
	loc := LocationOf(s.cfg)
	now := time.Now().In(loc)
	if now.Hour() != s.cfg.Business.ScheduleHour {
		return
	}
	today := RewardDateOf(now, loc)

	// referral 批次处理"昨日"购买，锁也按昨日标注
	yesterday := RewardDateOf(now.AddDate(0, 0, -1), loc)
	s.runLocked(ctx, JobTypeReferral, yesterday)
	s.runLocked(ctx, JobTypeDaily, today)
	s.runLocked(ctx, JobTypeSponsor, today)

	// 周释放每次都尝试，一周一次的闸门在任务内部
	if err := s.runner.RunCenterRelease(ctx); err != nil {
		log.Printf("[Scheduler] 周释放失败: %v", err)
	}
}

// runLocked 先占 (job, date) 运行锁与完成标记，再执行批次
func (s *Scheduler) runLocked(ctx context.Context, jobType, rewardDate string) {
	// 完成标记：同一 (job, date) 当天只触发一次，批次失败后标记过期可重试
	doneKey := fmt.Sprintf("reward:done:%s:%s", jobType, rewardDate)
	done, err := s.redisClient.Exists(ctx, doneKey).Result()
	if err != nil {
		log.Printf("[Scheduler] 查询完成标记失败: %v", err)
		return
	}
	if done > 0 {
		return
	}

	runLock := lock.NewJobRunLock(s.redisClient, jobType, rewardDate, uuid.NewString(),
		time.Duration(s.cfg.Business.JobLockTTLSeconds)*time.Second)
	acquired, err := runLock.TryLock(ctx)
	if err != nil {
		log.Printf("[Scheduler] 获取运行锁失败: job=%s, err=%v", jobType, err)
		return
	}
	if !acquired {
		log.Printf("[Scheduler] %s/%s 已有实例在运行，跳过", jobType, rewardDate)
		return
	}
	defer runLock.Unlock(ctx)

	if err := s.runner.RunJob(ctx, jobType, rewardDate); err != nil {
		log.Printf("[Scheduler] 批次失败: job=%s, date=%s, err=%v", jobType, rewardDate, err)
		return
	}
	// 批次幂等，标记只是省掉无谓的重复执行，过期丢失无害
	if err := s.redisClient.Set(ctx, doneKey, "1", 48*time.Hour).Err(); err != nil {
		log.Printf("[Scheduler] 写完成标记失败: %v", err)
	}
}
