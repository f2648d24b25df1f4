package repository

import (
	"context"

	"rewardengine/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RewardRepository struct {
	db *gorm.DB
}

func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

// InsertIgnore 幂等插入：命中 uk_reward_event 唯一索引时静默跳过。
// 返回值表示本次是否真的插入了新行；只有插入成功才允许继续记余额与槽位扣减。
func (r *RewardRepository) InsertIgnore(ctx context.Context, tx *gorm.DB, entry *model.RewardLog) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CreateAllocations 写槽位扣减明细
func (r *RewardRepository) CreateAllocations(ctx context.Context, tx *gorm.DB, allocs []*model.RewardAllocation) error {
	if len(allocs) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(allocs).Error
}

// ListDupKeysByDate 加载某结算日已存在的全部幂等键，批次启动时一次装入内存
func (r *RewardRepository) ListDupKeysByDate(ctx context.Context, rewardDate string) (map[string]bool, error) {
	var entries []*model.RewardLog
	err := r.db.WithContext(ctx).
		Select("member_id", "type", "source", "ref_id", "reward_date").
		Where("reward_date = ?", rewardDate).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		keys[e.DupKey()] = true
	}
	return keys, nil
}

// SumCountedByMembers 各会员已消耗的上限额度（只统计计入上限池的类型），按会员分组
func (r *RewardRepository) SumCountedByMembers(ctx context.Context, memberIDs []int64) (map[int64]int64, error) {
	consumed := make(map[int64]int64)
	if len(memberIDs) == 0 {
		return consumed, nil
	}
	type row struct {
		MemberID int64
		Total    int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.RewardLog{}).
		Select("member_id, COALESCE(SUM(amount), 0) AS total").
		Where("member_id IN ? AND type IN ?", memberIDs, model.CountedRewardTypes).
		Group("member_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		consumed[r.MemberID] = r.Total
	}
	return consumed, nil
}

// SumAllocationsByPurchase 各槽位已扣减的容量合计，按购买 ID 分组
func (r *RewardRepository) SumAllocationsByPurchase(ctx context.Context, memberIDs []int64) (map[int64]int64, error) {
	used := make(map[int64]int64)
	if len(memberIDs) == 0 {
		return used, nil
	}
	type row struct {
		PurchaseID int64
		Total      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.RewardAllocation{}).
		Select("purchase_id, COALESCE(SUM(amount), 0) AS total").
		Where("member_id IN ?", memberIDs).
		Group("purchase_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		used[r.PurchaseID] = r.Total
	}
	return used, nil
}

// ExistsByTypeAndSource 中心手续费的跨日期幂等判定：同一购买只收一次费
func (r *RewardRepository) ExistsByTypeAndSource(ctx context.Context, rewardType string, source int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RewardLog{}).
		Where("type = ? AND source = ?", rewardType, source).
		Count(&count).Error
	return count > 0, err
}

// ListUnreleasedCenterBetween 释放窗口内未释放的中心类流水
func (r *RewardRepository) ListUnreleasedCenterBetween(ctx context.Context, startDate, endDate string) ([]*model.RewardLog, error) {
	var entries []*model.RewardLog
	err := r.db.WithContext(ctx).
		Where("type IN ? AND is_released = ? AND reward_date >= ? AND reward_date <= ?",
			[]string{model.RewardTypeCenter, model.RewardTypeCenterRecommend},
			false, startDate, endDate).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// MarkReleased 周释放批次置位
func (r *RewardRepository) MarkReleased(ctx context.Context, tx *gorm.DB, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.RewardLog{}).
		Where("id IN ?", ids).
		Update("is_released", true).Error
}

// ListByMemberAndDate 流水查询（运营端看某会员某日明细）
func (r *RewardRepository) ListByMemberAndDate(ctx context.Context, memberID int64, rewardDate string) ([]*model.RewardLog, error) {
	var entries []*model.RewardLog
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND reward_date = ?", memberID, rewardDate).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ============================================================
// 每日汇总缓存
// ============================================================

// RebuildDailySummary 整日重建汇总：先删后插，全部数据从流水重新聚合。
// 汇总表是派生缓存，任何时候重建都不影响事实。
func (r *RewardRepository) RebuildDailySummary(ctx context.Context, rewardDate string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reward_date = ?", rewardDate).
			Delete(&model.RewardDailySummary{}).Error; err != nil {
			return err
		}

		type row struct {
			MemberID int64
			Type     string
			Total    int64
		}
		var rows []row
		err := tx.Model(&model.RewardLog{}).
			Select("member_id, type, COALESCE(SUM(amount), 0) AS total").
			Where("reward_date = ?", rewardDate).
			Group("member_id").
			Group("type").
			Scan(&rows).Error
		if err != nil {
			return err
		}

		for _, row := range rows {
			summary := &model.RewardDailySummary{
				MemberID:   row.MemberID,
				RewardDate: rewardDate,
				Type:       row.Type,
				Amount:     row.Total,
			}
			if err := tx.Create(summary).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSummary 汇总读取（看板接口用）
func (r *RewardRepository) ListSummary(ctx context.Context, memberID int64, rewardDate string) ([]*model.RewardDailySummary, error) {
	var summaries []*model.RewardDailySummary
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND reward_date = ?", memberID, rewardDate).
		Find(&summaries).Error
	return summaries, err
}
