package main

import (
	"context"
	"flag"
	"log"

	"rewardengine/internal/config"
	"rewardengine/internal/infrastructure/database"
	"rewardengine/internal/job"
	"rewardengine/pkg/idgen"
)

// 一次性批次执行器：补跑历史结算日、排障时手工触发单个批次。
// 只连 MySQL，不碰 Redis 和 Kafka——运行锁交给运维自己保证，
// 事件留在 outbox 表里由常驻服务的发送任务慢慢搬走。
func main() {
	var (
		configPath    = flag.String("config", "config/config.yaml", "配置文件路径")
		rewardDate    = flag.String("date", "", "结算日 YYYY-MM-DD（空串用任务默认日期）")
		jobType       = flag.String("job", "", "要执行的批次: all|daily|referral|sponsor")
		releaseCenter = flag.Bool("release-center", false, "执行中心手续费周释放")
	)
	flag.Parse()

	if *jobType == "" && !*releaseCenter {
		log.Fatal("必须指定 -job 或 -release-center")
	}

	cfg := config.LoadConfig(*configPath)
	idgen.Init(2) // 和常驻服务用不同的 workerID，避免运行号撞车
	db := database.InitMySQL(&cfg.MySQL)

	ctx := context.Background()
	runner := job.NewRunner(db, cfg)

	if *jobType != "" {
		if err := runner.RunJob(ctx, *jobType, *rewardDate); err != nil {
			log.Fatalf("批次执行失败: %v", err)
		}
		log.Printf("批次执行完成: job=%s, date=%s", *jobType, *rewardDate)
	}

	if *releaseCenter {
		if err := runner.RunCenterRelease(ctx); err != nil {
			log.Fatalf("周释放执行失败: %v", err)
		}
		log.Println("周释放执行完成")
	}
}
