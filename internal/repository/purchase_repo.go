package repository

import (
	"context"
	"errors"
	"time"

	"rewardengine/internal/model"

	"gorm.io/gorm"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// ListApproved 所有审批通过的购买，按 ID 升序（槽位的 FIFO 顺序）
func (r *PurchaseRepository) ListApproved(ctx context.Context) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("status = ?", model.PurchaseStatusApproved).
		Order("id ASC").
		Find(&purchases).Error
	return purchases, err
}

// ListApprovedByMembers 指定会员集合的审批通过购买，按 ID 升序
func (r *PurchaseRepository) ListApprovedByMembers(ctx context.Context, memberIDs []int64) ([]*model.Purchase, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("member_id IN ? AND status = ?", memberIDs, model.PurchaseStatusApproved).
		Order("id ASC").
		Find(&purchases).Error
	return purchases, err
}

// ListApprovedNormalBetween 指定时间窗内的 normal 审批购买（中心手续费取"昨日"用）
// 窗口在 Go 侧按结算时区算成 [start, end)，不用数据库日期函数。
func (r *PurchaseRepository) ListApprovedNormalBetween(ctx context.Context, start, end time.Time) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("status = ? AND type = ? AND created_at >= ? AND created_at < ?",
			model.PurchaseStatusApproved, model.PurchaseTypeNormal, start, end).
		Order("id ASC").
		Find(&purchases).Error
	return purchases, err
}

// FirstApprovedAt 会员第一笔审批购买（任意类型）的时间；没有购买返回 (zero, false)
func (r *PurchaseRepository) FirstApprovedAt(ctx context.Context, memberID int64) (time.Time, bool, error) {
	var purchase model.Purchase
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND status = ?", memberID, model.PurchaseStatusApproved).
		Order("id ASC").
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return purchase.CreatedAt, true, nil
}

// QualifiedRecommenders 返回给定会员集合中"拥有至少一笔 normal 审批购买"的 ID 集合。
// 奖金上限的 2.0/1.5 资格判定用，一次查完整个批次涉及的推荐人。
func (r *PurchaseRepository) QualifiedRecommenders(ctx context.Context, memberIDs []int64) (map[int64]bool, error) {
	qualified := make(map[int64]bool)
	if len(memberIDs) == 0 {
		return qualified, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Purchase{}).
		Distinct("member_id").
		Where("member_id IN ? AND status = ? AND type = ?",
			memberIDs, model.PurchaseStatusApproved, model.PurchaseTypeNormal).
		Pluck("member_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		qualified[id] = true
	}
	return qualified, nil
}

// SumSubtreeNormalPV 物化路径包含 pathMemberID 的所有会员（即以其为根的整棵子树，
// 含根自身）自 since 起的 normal 审批购买 PV 合计。
func (r *PurchaseRepository) SumSubtreeNormalPV(ctx context.Context, pathMemberID int64, since time.Time) (int64, error) {
	var total int64
	pattern := "%" + model.SponsorPathSegment(pathMemberID) + "%"
	err := r.db.WithContext(ctx).
		Model(&model.Purchase{}).
		Joins("JOIN members ON members.id = purchases.member_id").
		Where("members.sponsor_path LIKE ?", pattern).
		Where("purchases.status = ? AND purchases.type = ? AND purchases.created_at >= ?",
			model.PurchaseStatusApproved, model.PurchaseTypeNormal, since).
		Select("COALESCE(SUM(purchases.pv), 0)").
		Scan(&total).Error
	return total, err
}
