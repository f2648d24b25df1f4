package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"rewardengine/internal/config"
	"rewardengine/internal/model"
	"rewardengine/internal/repository"
	"rewardengine/internal/service"
	"rewardengine/pkg/idgen"
	"rewardengine/pkg/metrics"

	"gorm.io/gorm"
)

// SponsorRewardJob 后援（对碰）奖批次
//
// 逐会员处理，每个会员一个独立事务（流水 + 余额 + 检查点同提交同回滚）。
// 单个会员失败只记日志并继续，绝不拖垮整个批次。
type SponsorRewardJob struct {
	db             *gorm.DB
	cfg            *config.Config
	memberRepo     *repository.MemberRepository
	purchaseRepo   *repository.PurchaseRepository
	commissionRepo *repository.CommissionRepository
	bonusRepo      *repository.BonusConfigRepository
	outboxRepo     *repository.OutboxRepository
	lineage        *service.LineageService
	limits         *service.LimitService
	ledger         *service.LedgerService
}

func NewSponsorRewardJob(db *gorm.DB, cfg *config.Config) *SponsorRewardJob {
	return &SponsorRewardJob{
		db:             db,
		cfg:            cfg,
		memberRepo:     repository.NewMemberRepository(db),
		purchaseRepo:   repository.NewPurchaseRepository(db),
		commissionRepo: repository.NewCommissionRepository(db),
		bonusRepo:      repository.NewBonusConfigRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		lineage:        service.NewLineageService(db),
		limits:         service.NewLimitService(db),
		ledger:         service.NewLedgerService(db),
	}
}

// Run 执行一个结算日的对碰奖批次
func (j *SponsorRewardJob) Run(ctx context.Context, rewardDate string) error {
	loc := LocationOf(j.cfg)
	if rewardDate == "" {
		rewardDate = RewardDateOf(time.Now(), loc)
	}
	if _, err := ParseRewardDate(rewardDate, loc); err != nil {
		return err
	}

	rates, err := j.bonusRepo.LoadRateTable(ctx)
	if err != nil {
		return fmt.Errorf("加载费率失败: %w", err)
	}
	if rates.Sponsor <= 0 {
		log.Printf("[SponsorReward] 对碰费率未配置（=0），批次跳过")
		metrics.JobRuns.WithLabelValues("sponsor", metrics.ResultSkip).Inc()
		return nil
	}

	members, err := j.memberRepo.ListRewardable(ctx)
	if err != nil {
		return fmt.Errorf("加载会员失败: %w", err)
	}

	log.Printf("[SponsorReward] 批次开始: reward_date=%s, 会员数=%d", rewardDate, len(members))

	var paidTotal int64
	paidCount, failCount := 0, 0
	for _, m := range members {
		paid, err := j.processMember(ctx, m, rates.Sponsor, rewardDate)
		if err != nil {
			// 单会员失败：回滚已在事务内完成，记日志继续下一个
			log.Printf("[SponsorReward] 会员 %d 处理失败: %v", m.ID, err)
			failCount++
			continue
		}
		if paid > 0 {
			paidTotal += paid
			paidCount++
		}
	}

	j.publishRunEvent(ctx, rewardDate, paidCount, paidTotal)

	metrics.JobRuns.WithLabelValues("sponsor", metrics.ResultOK).Inc()
	metrics.RewardPaidAmount.WithLabelValues("sponsor", model.RewardTypeSponsor).Add(float64(paidTotal))
	log.Printf("[SponsorReward] 批次完成: date=%s, 发放=%d 人, 合计=%d, 失败=%d",
		rewardDate, paidCount, paidTotal, failCount)
	return nil
}

// processMember 单个会员的对碰结算，返回实付金额
func (j *SponsorRewardJob) processMember(ctx context.Context, m *model.Member, sponsorRate float64, rewardDate string) (int64, error) {
	// 第一笔审批购买之前不存在对碰资格
	firstAt, ok, err := j.purchaseRepo.FirstApprovedAt(ctx, m.ID)
	if err != nil {
		return 0, fmt.Errorf("查询首购失败: %w", err)
	}
	if !ok {
		return 0, nil
	}

	leftPV, err := j.lineage.SubtreePV(ctx, m.ID, model.SponsorLeft, firstAt)
	if err != nil {
		return 0, fmt.Errorf("左子树 PV 失败: %w", err)
	}
	rightPV, err := j.lineage.SubtreePV(ctx, m.ID, model.SponsorRight, firstAt)
	if err != nil {
		return 0, fmt.Errorf("右子树 PV 失败: %w", err)
	}

	matchedPV := leftPV
	if rightPV < matchedPV {
		matchedPV = rightPV
	}

	checkpoint, err := j.commissionRepo.Get(ctx, m.ID)
	if err != nil {
		return 0, fmt.Errorf("读取检查点失败: %w", err)
	}

	delta := matchedPV - checkpoint.Paid
	if delta < 0 {
		// PV 只会累加，负增量说明底层数据被改过：告警跳过，不回退检查点
		log.Printf("[SponsorReward] 会员 %d 对碰量倒退: matched=%d < paid=%d，数据完整性告警",
			m.ID, matchedPV, checkpoint.Paid)
		return 0, nil
	}
	if delta == 0 {
		return 0, nil
	}

	gross := floorMul(delta, sponsorRate)
	if gross <= 0 {
		// 不足 1 点不结算，检查点不动，增量留到下次凑整
		return 0, nil
	}

	// 额度与槽位都只看这一个会员，逐会员查即可
	book, err := j.limits.LoadSlotBook(ctx, []int64{m.ID})
	if err != nil {
		return 0, fmt.Errorf("预载槽位失败: %w", err)
	}
	allocs, paid, _ := book.AllocateWithin(m.ID, gross)
	if paid <= 0 {
		return 0, nil
	}

	var inserted bool
	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := &model.RewardLog{
			MemberID:   m.ID,
			Type:       model.RewardTypeSponsor,
			Source:     m.ID,
			RefID:      0,
			RewardDate: rewardDate,
			Amount:     paid,
			Memo:       fmt.Sprintf("对碰 %d PV (L=%d R=%d)", delta, leftPV, rightPV),
		}
		inserted, err = j.ledger.Record(ctx, tx, entry, allocs)
		if err != nil {
			return err
		}
		if !inserted {
			// 当日已结算过（重跑），检查点早已前移，整体不动
			return nil
		}
		checkpoint.LeftPV = leftPV
		checkpoint.RightPV = rightPV
		checkpoint.MatchedPV = matchedPV
		checkpoint.Paid = matchedPV
		return j.commissionRepo.Upsert(ctx, tx, checkpoint)
	})
	if err != nil {
		return 0, err
	}
	if !inserted {
		metrics.RewardEntries.WithLabelValues("sponsor", metrics.OutcomeDup).Inc()
		return 0, nil
	}
	metrics.RewardEntries.WithLabelValues("sponsor", metrics.OutcomePaid).Inc()
	return paid, nil
}

func (j *SponsorRewardJob) publishRunEvent(ctx context.Context, rewardDate string, paidCount int, paidTotal int64) {
	payload, _ := json.Marshal(map[string]interface{}{
		"run_id":       idgen.GenerateRunID(),
		"job":          "sponsor",
		"reward_date":  rewardDate,
		"members_paid": paidCount,
		"paid_amount":  paidTotal,
		"completed_at": time.Now().Format(time.RFC3339),
	})
	msg := &model.OutboxMessage{
		MessageKey: fmt.Sprintf("sponsor:%s", rewardDate),
		Topic:      j.cfg.Kafka.Topic.RewardEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := j.outboxRepo.Create(ctx, nil, msg); err != nil {
		log.Printf("[SponsorReward] 写入批次事件失败: %v", err)
	}
}
