package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"rewardengine/internal/config"
	"rewardengine/internal/model"
	"rewardengine/internal/repository"
	"rewardengine/internal/service"
	"rewardengine/pkg/idgen"
	"rewardengine/pkg/metrics"

	"gorm.io/gorm"
)

// 流水备注（审计留痕用，金额为 0 的行必须说明原因）
const (
	MemoLimitExhausted = "额度耗尽"
	MemoLimitPartial   = "额度不足，部分支付"
	MemoMemberBlocked  = "会员已冻结"
	MemoNoSlotCapacity = "槽位容量耗尽"
)

// DailyRewardJob 每日收益 + 推荐匹配批次
//
// 对同一结算日可重复执行：已存在的幂等键在内存去重集合里被跳过，
// 落库时再被唯一索引兜底，重跑不产生新流水也不动余额。
type DailyRewardJob struct {
	db           *gorm.DB
	cfg          *config.Config
	memberRepo   *repository.MemberRepository
	purchaseRepo *repository.PurchaseRepository
	rewardRepo   *repository.RewardRepository
	settingRepo  *repository.SettingRepository
	bonusRepo    *repository.BonusConfigRepository
	outboxRepo   *repository.OutboxRepository
	limits       *service.LimitService
	ledger       *service.LedgerService
}

func NewDailyRewardJob(db *gorm.DB, cfg *config.Config) *DailyRewardJob {
	return &DailyRewardJob{
		db:           db,
		cfg:          cfg,
		memberRepo:   repository.NewMemberRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		rewardRepo:   repository.NewRewardRepository(db),
		settingRepo:  repository.NewSettingRepository(db),
		bonusRepo:    repository.NewBonusConfigRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		limits:       service.NewLimitService(db),
		ledger:       service.NewLedgerService(db),
	}
}

// dailyRunContext 单次运行的私有上下文：去重集合、额度台账都挂在这里，
// 批次结束即丢弃，不存在进程级共享状态。
type dailyRunContext struct {
	rewardDate string
	rates      *repository.RateTable
	dup        map[string]bool
	book       *service.SlotBook
	members    map[int64]*model.Member
	pending    []*service.PendingEntry

	paidDaily    int64
	paidMatching int64
	paidCount    int
	zeroCount    int
	dupCount     int
}

// Run 执行一个结算日的每日收益批次；rewardDate 传空串表示"今天"（结算时区）
func (j *DailyRewardJob) Run(ctx context.Context, rewardDate string) error {
	loc := LocationOf(j.cfg)
	if rewardDate == "" {
		rewardDate = RewardDateOf(time.Now(), loc)
	}
	day, err := ParseRewardDate(rewardDate, loc)
	if err != nil {
		return err
	}

	// 开放日检查：不在 reward_days 里的星期整批跳过
	days, err := j.settingRepo.GetRewardDays(ctx)
	if err != nil {
		return fmt.Errorf("读取 reward_days 失败: %w", err)
	}
	if !days[int(day.Weekday())] {
		log.Printf("[DailyReward] %s（周%d）不在开放日内，跳过", rewardDate, int(day.Weekday()))
		metrics.JobRuns.WithLabelValues("daily", metrics.ResultSkip).Inc()
		return nil
	}

	log.Printf("[DailyReward] 批次开始: reward_date=%s", rewardDate)

	purchases, err := j.purchaseRepo.ListApproved(ctx)
	if err != nil {
		return fmt.Errorf("加载审批购买失败: %w", err)
	}
	allMembers, err := j.memberRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("加载会员失败: %w", err)
	}
	rates, err := j.bonusRepo.LoadRateTable(ctx)
	if err != nil {
		return fmt.Errorf("加载费率失败: %w", err)
	}
	dup, err := j.rewardRepo.ListDupKeysByDate(ctx, rewardDate)
	if err != nil {
		return fmt.Errorf("加载当日流水失败: %w", err)
	}

	members := make(map[int64]*model.Member, len(allMembers))
	for _, m := range allMembers {
		members[m.ID] = m
	}

	// 受影响会员 = 购买人 + 其 15 级祖先，槽位状态一次性预载
	affected := make(map[int64]bool)
	for _, p := range purchases {
		owner := members[p.MemberID]
		if owner == nil {
			continue
		}
		affected[p.MemberID] = true
		for _, anc := range owner.RecAncestors() {
			if anc != nil {
				affected[*anc] = true
			}
		}
	}
	affectedIDs := make([]int64, 0, len(affected))
	for id := range affected {
		affectedIDs = append(affectedIDs, id)
	}
	book, err := j.limits.LoadSlotBook(ctx, affectedIDs)
	if err != nil {
		return fmt.Errorf("预载槽位状态失败: %w", err)
	}

	rc := &dailyRunContext{
		rewardDate: rewardDate,
		rates:      rates,
		dup:        dup,
		book:       book,
		members:    members,
	}
	for _, p := range purchases {
		j.processPurchase(rc, p)
	}

	inserted, err := j.ledger.WriteBatch(ctx, rc.pending, j.cfg.Business.BatchInsertSize)
	if err != nil {
		metrics.JobRuns.WithLabelValues("daily", metrics.ResultError).Inc()
		return fmt.Errorf("批量落库失败: %w", err)
	}

	// 汇总缓存重建：当日与前一日（跨日补录的看板口径）
	if err := j.rewardRepo.RebuildDailySummary(ctx, rewardDate); err != nil {
		log.Printf("[DailyReward] 汇总重建失败: date=%s, err=%v", rewardDate, err)
	}
	prevDate := day.AddDate(0, 0, -1).Format("2006-01-02")
	if err := j.rewardRepo.RebuildDailySummary(ctx, prevDate); err != nil {
		log.Printf("[DailyReward] 汇总重建失败: date=%s, err=%v", prevDate, err)
	}

	j.publishRunEvent(ctx, rc, inserted)

	metrics.JobRuns.WithLabelValues("daily", metrics.ResultOK).Inc()
	metrics.RewardPaidAmount.WithLabelValues("daily", model.RewardTypeDaily).Add(float64(rc.paidDaily))
	metrics.RewardPaidAmount.WithLabelValues("daily", model.RewardTypeDailyMatching).Add(float64(rc.paidMatching))
	log.Printf("[DailyReward] 批次完成: date=%s, 入库=%d, 实付=%d, 零额=%d, 重复跳过=%d",
		rewardDate, inserted, rc.paidDaily+rc.paidMatching, rc.zeroCount, rc.dupCount)
	return nil
}

func (j *DailyRewardJob) processPurchase(rc *dailyRunContext, p *model.Purchase) {
	owner := rc.members[p.MemberID]
	if owner == nil {
		log.Printf("[DailyReward] 购买 %d 的会员 %d 不存在，跳过", p.ID, p.MemberID)
		return
	}
	if owner.IsRewardBlocked {
		return
	}
	if !j.isEligible(rc, p) {
		return
	}

	dailyNeed := floorMul(p.PV, rc.rates.Daily)
	if dailyNeed <= 0 {
		return
	}

	// 购买人的每日收益
	ownerKey := model.RewardDupKey(owner.ID, model.RewardTypeDaily, owner.ID, p.ID, rc.rewardDate)
	if rc.dup[ownerKey] {
		rc.dupCount++
		metrics.RewardEntries.WithLabelValues("daily", metrics.OutcomeDup).Inc()
	} else {
		allocs, paid, _ := rc.book.AllocateWithin(owner.ID, dailyNeed)
		rc.appendEntry(&model.RewardLog{
			MemberID:   owner.ID,
			Type:       model.RewardTypeDaily,
			Source:     owner.ID,
			RefID:      p.ID,
			RewardDate: rc.rewardDate,
			Amount:     paid,
			Memo:       shortfallMemo(paid, dailyNeed),
		}, allocs, ownerKey)
		rc.paidDaily += paid
	}

	// 推荐匹配只对 normal 购买发放
	if p.Type != model.PurchaseTypeNormal {
		return
	}
	ancestors := owner.RecAncestors()
	for level := 1; level <= model.RecommenderDepth; level++ {
		if !rc.rates.HasMatchingRate(level) {
			continue
		}
		ancestorID := ancestors[level-1]
		if ancestorID == nil {
			continue
		}
		ancestor := rc.members[*ancestorID]
		if ancestor == nil {
			continue
		}

		key := model.RewardDupKey(ancestor.ID, model.RewardTypeDailyMatching, p.MemberID, p.ID, rc.rewardDate)
		if rc.dup[key] {
			rc.dupCount++
			metrics.RewardEntries.WithLabelValues("daily", metrics.OutcomeDup).Inc()
			continue
		}

		if ancestor.IsRewardBlocked {
			rc.appendEntry(&model.RewardLog{
				MemberID:   ancestor.ID,
				Type:       model.RewardTypeDailyMatching,
				Source:     p.MemberID,
				RefID:      p.ID,
				RewardDate: rc.rewardDate,
				Amount:     0,
				Memo:       MemoMemberBlocked,
			}, nil, key)
			continue
		}

		need := floorMul(dailyNeed, rc.rates.Matching[level])
		if need <= 0 {
			continue
		}
		allocs, paid, _ := rc.book.AllocateWithin(ancestor.ID, need)
		rc.appendEntry(&model.RewardLog{
			MemberID:   ancestor.ID,
			Type:       model.RewardTypeDailyMatching,
			Source:     p.MemberID,
			RefID:      p.ID,
			RewardDate: rc.rewardDate,
			Amount:     paid,
			Memo:       shortfallMemo(paid, need),
		}, allocs, key)
		rc.paidMatching += paid
	}
}

// isEligible normal 一律参与；bcode 只在自身槽位尚有容量时视为"有效"
func (j *DailyRewardJob) isEligible(rc *dailyRunContext, p *model.Purchase) bool {
	switch p.Type {
	case model.PurchaseTypeNormal:
		return true
	case model.PurchaseTypeBcode:
		slots := rc.book.Member(p.MemberID)
		if slots == nil {
			return false
		}
		for _, slot := range slots.Slots {
			if slot.PurchaseID == p.ID {
				return slot.Remaining > 0
			}
		}
		return false
	default:
		return false
	}
}

func (rc *dailyRunContext) appendEntry(entry *model.RewardLog, allocs []service.SlotAllocation, key string) {
	rc.pending = append(rc.pending, &service.PendingEntry{Entry: entry, Allocs: allocs})
	rc.dup[key] = true
	if entry.Amount > 0 {
		rc.paidCount++
		metrics.RewardEntries.WithLabelValues("daily", metrics.OutcomePaid).Inc()
	} else {
		rc.zeroCount++
		metrics.RewardEntries.WithLabelValues("daily", metrics.OutcomeZero).Inc()
	}
}

func (j *DailyRewardJob) publishRunEvent(ctx context.Context, rc *dailyRunContext, inserted int) {
	payload, _ := json.Marshal(map[string]interface{}{
		"run_id":        idgen.GenerateRunID(),
		"job":           "daily",
		"reward_date":   rc.rewardDate,
		"entries":       inserted,
		"paid_amount":   rc.paidDaily + rc.paidMatching,
		"zero_entries":  rc.zeroCount,
		"completed_at":  time.Now().Format(time.RFC3339),
	})
	msg := &model.OutboxMessage{
		MessageKey: fmt.Sprintf("daily:%s", rc.rewardDate),
		Topic:      j.cfg.Kafka.Topic.RewardEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := j.outboxRepo.Create(ctx, nil, msg); err != nil {
		// 事件丢失不影响奖金本身，记日志即可
		log.Printf("[DailyReward] 写入批次事件失败: %v", err)
	}
}

// shortfallMemo 金额为 0 或只付了一部分时的审计备注
func shortfallMemo(paid, need int64) string {
	if paid == 0 {
		return MemoLimitExhausted
	}
	if paid < need {
		return MemoLimitPartial
	}
	return ""
}

// floorMul 金额一律向下取整到整数点（不存在小数点位）
func floorMul(base int64, rate float64) int64 {
	return int64(math.Floor(float64(base) * rate))
}
