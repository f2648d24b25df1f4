package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"rewardengine/internal/config"
	"rewardengine/internal/model"
	"rewardengine/internal/repository"
	"rewardengine/internal/service"
	"rewardengine/pkg/metrics"

	"gorm.io/gorm"
)

// CenterFeeJob 中心手续费批次
//
// 处理"昨日"（或指定日）的 normal 审批购买：给购买人所属中心的所有人付
// 中心手续费，给中心所有人的推荐人付中心推荐费。幂等以 (type, source=购买ID)
// 判定——同一笔购买跨任何日期只收一次费。写入时 is_released=0，
// 不进余额，由周释放批次统一入账。
type CenterFeeJob struct {
	db           *gorm.DB
	cfg          *config.Config
	memberRepo   *repository.MemberRepository
	centerRepo   *repository.CenterRepository
	purchaseRepo *repository.PurchaseRepository
	rewardRepo   *repository.RewardRepository
	bonusRepo    *repository.BonusConfigRepository
	limits       *service.LimitService
	ledger       *service.LedgerService
}

func NewCenterFeeJob(db *gorm.DB, cfg *config.Config) *CenterFeeJob {
	return &CenterFeeJob{
		db:           db,
		cfg:          cfg,
		memberRepo:   repository.NewMemberRepository(db),
		centerRepo:   repository.NewCenterRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		rewardRepo:   repository.NewRewardRepository(db),
		bonusRepo:    repository.NewBonusConfigRepository(db),
		limits:       service.NewLimitService(db),
		ledger:       service.NewLedgerService(db),
	}
}

// Run 执行中心手续费批次；targetDate 传空串表示"昨天"（结算时区）
func (j *CenterFeeJob) Run(ctx context.Context, targetDate string) error {
	loc := LocationOf(j.cfg)
	if targetDate == "" {
		targetDate = RewardDateOf(time.Now().AddDate(0, 0, -1), loc)
	}
	start, end, err := DayWindow(targetDate, loc)
	if err != nil {
		return err
	}

	rates, err := j.bonusRepo.LoadRateTable(ctx)
	if err != nil {
		return fmt.Errorf("加载费率失败: %w", err)
	}
	if rates.Center <= 0 && rates.CenterRecommend <= 0 {
		log.Printf("[CenterFee] 中心费率未配置（=0），批次跳过")
		metrics.JobRuns.WithLabelValues("referral", metrics.ResultSkip).Inc()
		return nil
	}

	purchases, err := j.purchaseRepo.ListApprovedNormalBetween(ctx, start, end)
	if err != nil {
		return fmt.Errorf("加载目标日购买失败: %w", err)
	}

	log.Printf("[CenterFee] 批次开始: target_date=%s, 购买数=%d", targetDate, len(purchases))

	// 一次性把购买人、中心、中心所有人、其推荐人都装进内存
	buyerIDs := make([]int64, 0, len(purchases))
	for _, p := range purchases {
		buyerIDs = append(buyerIDs, p.MemberID)
	}
	members, err := j.loadMembers(ctx, buyerIDs)
	if err != nil {
		return err
	}
	centerIDs := make([]int64, 0)
	seenCenter := make(map[int64]bool)
	for _, p := range purchases {
		buyer := members[p.MemberID]
		if buyer == nil || buyer.CenterID == nil || seenCenter[*buyer.CenterID] {
			continue
		}
		seenCenter[*buyer.CenterID] = true
		centerIDs = append(centerIDs, *buyer.CenterID)
	}
	centers, err := j.centerRepo.MapByIDs(ctx, centerIDs)
	if err != nil {
		return fmt.Errorf("加载中心失败: %w", err)
	}

	recipientIDs := make([]int64, 0)
	seenRecipient := make(map[int64]bool)
	addRecipient := func(id int64) {
		if !seenRecipient[id] {
			seenRecipient[id] = true
			recipientIDs = append(recipientIDs, id)
		}
	}
	for _, c := range centers {
		addRecipient(c.OwnerMemberID)
	}
	owners, err := j.loadMembers(ctx, recipientIDs)
	if err != nil {
		return err
	}
	recommenderIDs := make([]int64, 0)
	for id, m := range owners {
		members[id] = m
		if m.RecommenderID != nil && !seenRecipient[*m.RecommenderID] {
			addRecipient(*m.RecommenderID)
			recommenderIDs = append(recommenderIDs, *m.RecommenderID)
		}
	}
	recommenders, err := j.loadMembers(ctx, recommenderIDs)
	if err != nil {
		return err
	}
	for id, m := range recommenders {
		members[id] = m
	}

	book, err := j.limits.LoadSlotBook(ctx, recipientIDs)
	if err != nil {
		return fmt.Errorf("预载槽位失败: %w", err)
	}

	var paidTotal int64
	paidCount, dupCount := 0, 0
	for _, p := range purchases {
		buyer := members[p.MemberID]
		if buyer == nil || buyer.CenterID == nil {
			continue
		}
		center := centers[*buyer.CenterID]
		if center == nil {
			log.Printf("[CenterFee] 购买 %d 的中心 %d 不存在，跳过", p.ID, *buyer.CenterID)
			continue
		}

		owner := members[center.OwnerMemberID]
		if owner != nil && rates.Center > 0 {
			paid, dup, err := j.payFee(ctx, owner, model.RewardTypeCenter,
				floorMul(p.PV, rates.Center), p, targetDate, book)
			if err != nil {
				log.Printf("[CenterFee] 中心费发放失败: purchase=%d, member=%d, err=%v", p.ID, owner.ID, err)
			} else if dup {
				dupCount++
			} else if paid > 0 {
				paidTotal += paid
				paidCount++
			}
		}
		if owner != nil && owner.RecommenderID != nil && rates.CenterRecommend > 0 {
			recommender := members[*owner.RecommenderID]
			if recommender != nil {
				paid, dup, err := j.payFee(ctx, recommender, model.RewardTypeCenterRecommend,
					floorMul(p.PV, rates.CenterRecommend), p, targetDate, book)
				if err != nil {
					log.Printf("[CenterFee] 中心推荐费发放失败: purchase=%d, member=%d, err=%v", p.ID, recommender.ID, err)
				} else if dup {
					dupCount++
				} else if paid > 0 {
					paidTotal += paid
					paidCount++
				}
			}
		}
	}

	metrics.JobRuns.WithLabelValues("referral", metrics.ResultOK).Inc()
	metrics.RewardPaidAmount.WithLabelValues("referral", model.RewardTypeCenter).Add(float64(paidTotal))
	log.Printf("[CenterFee] 批次完成: date=%s, 发放=%d 条, 合计=%d（未释放）, 重复跳过=%d",
		targetDate, paidCount, paidTotal, dupCount)
	return nil
}

// payFee 单条手续费：跨日期幂等（同购买只收一次），冻结或无槽位容量时写零额流水
func (j *CenterFeeJob) payFee(ctx context.Context, recipient *model.Member, feeType string,
	amount int64, p *model.Purchase, targetDate string, book *service.SlotBook) (int64, bool, error) {

	exists, err := j.rewardRepo.ExistsByTypeAndSource(ctx, feeType, p.ID)
	if err != nil {
		return 0, false, err
	}
	if exists {
		metrics.RewardEntries.WithLabelValues("referral", metrics.OutcomeDup).Inc()
		return 0, true, nil
	}

	memo := ""
	if recipient.IsRewardBlocked {
		amount = 0
		memo = MemoMemberBlocked
	} else if slots := book.Member(recipient.ID); slots == nil || !slots.HasAnyAvailable() {
		amount = 0
		memo = MemoNoSlotCapacity
	}

	entry := &model.RewardLog{
		MemberID:   recipient.ID,
		Type:       feeType,
		Source:     p.ID,
		RefID:      p.ID,
		RewardDate: targetDate,
		Amount:     amount,
		Memo:       memo,
	}
	// 中心费不占上限池也不扣槽位，无分配明细
	inserted, err := j.ledger.Record(ctx, nil, entry, nil)
	if err != nil {
		return 0, false, err
	}
	if !inserted {
		metrics.RewardEntries.WithLabelValues("referral", metrics.OutcomeDup).Inc()
		return 0, true, nil
	}
	if amount > 0 {
		metrics.RewardEntries.WithLabelValues("referral", metrics.OutcomePaid).Inc()
	} else {
		metrics.RewardEntries.WithLabelValues("referral", metrics.OutcomeZero).Inc()
	}
	return amount, false, nil
}

func (j *CenterFeeJob) loadMembers(ctx context.Context, ids []int64) (map[int64]*model.Member, error) {
	result := make(map[int64]*model.Member, len(ids))
	list, err := j.memberRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("加载会员失败: %w", err)
	}
	for _, m := range list {
		result[m.ID] = m
	}
	return result, nil
}

// ============================================================
// 中心手续费周释放
// ============================================================

// CenterReleaseJob 把上一个自然周（周一至周日，结算时区）的未释放中心类
// 流水计入余额。用 settings 里的 ISO 周标记做"一周只跑一次"的闸门。
type CenterReleaseJob struct {
	db          *gorm.DB
	cfg         *config.Config
	memberRepo  *repository.MemberRepository
	rewardRepo  *repository.RewardRepository
	settingRepo *repository.SettingRepository
}

func NewCenterReleaseJob(db *gorm.DB, cfg *config.Config) *CenterReleaseJob {
	return &CenterReleaseJob{
		db:          db,
		cfg:         cfg,
		memberRepo:  repository.NewMemberRepository(db),
		rewardRepo:  repository.NewRewardRepository(db),
		settingRepo: repository.NewSettingRepository(db),
	}
}

// Run 释放上周的中心手续费；本周已释放过则直接跳过
func (j *CenterReleaseJob) Run(ctx context.Context, now time.Time) error {
	loc := LocationOf(j.cfg)
	local := now.In(loc)
	year, week := local.ISOWeek()
	weekKey := fmt.Sprintf("%04d-W%02d", year, week)

	released, ok, err := j.settingRepo.GetValue(ctx, model.SettingCenterReleaseWeek)
	if err != nil {
		return fmt.Errorf("读取释放标记失败: %w", err)
	}
	if ok && released == weekKey {
		log.Printf("[CenterRelease] 本周（%s）已释放过，跳过", weekKey)
		return nil
	}

	startDate, endDate := previousWeekRange(local)
	entries, err := j.rewardRepo.ListUnreleasedCenterBetween(ctx, startDate, endDate)
	if err != nil {
		return fmt.Errorf("加载未释放流水失败: %w", err)
	}

	var total int64
	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(entries))
		credits := make(map[int64]int64)
		for _, e := range entries {
			ids = append(ids, e.ID)
			if e.Amount > 0 {
				credits[e.MemberID] += e.Amount
				total += e.Amount
			}
		}
		if err := j.rewardRepo.MarkReleased(ctx, tx, ids); err != nil {
			return err
		}
		for memberID, amount := range credits {
			if err := j.memberRepo.CreditReward(ctx, tx, memberID, amount); err != nil {
				return err
			}
		}
		return j.settingRepo.SetValue(ctx, tx, model.SettingCenterReleaseWeek, weekKey)
	})
	if err != nil {
		return fmt.Errorf("周释放事务失败: %w", err)
	}

	log.Printf("[CenterRelease] 释放完成: %s ~ %s, 条数=%d, 合计=%d", startDate, endDate, len(entries), total)
	return nil
}

// previousWeekRange 上一个自然周的 [周一, 周日]（含两端），返回结算日字符串
func previousWeekRange(local time.Time) (string, string) {
	// Go 的 Weekday 周日=0，换算成周一=0 的偏移
	offset := (int(local.Weekday()) + 6) % 7
	thisMonday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).
		AddDate(0, 0, -offset)
	lastMonday := thisMonday.AddDate(0, 0, -7)
	lastSunday := thisMonday.AddDate(0, 0, -1)
	return lastMonday.Format(rewardDateLayout), lastSunday.Format(rewardDateLayout)
}
