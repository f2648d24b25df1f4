package repository

import (
	"context"
	"errors"

	"rewardengine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrMemberNotFound = errors.New("会员不存在")
	ErrCenterNotFound = errors.New("中心不存在")
)

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).First(&member, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// ListAll 全表加载会员（血统解析/修复整表跑一遍，避免 N 次单查）
func (r *MemberRepository) ListAll(ctx context.Context) ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.WithContext(ctx).Order("id ASC").Find(&members).Error
	return members, err
}

// ListByIDs 按 ID 批量加载
func (r *MemberRepository) ListByIDs(ctx context.Context, ids []int64) ([]*model.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var members []*model.Member
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&members).Error
	return members, err
}

// ListRewardable 对碰奖批次的遍历对象：排除黑名单与冻结会员
func (r *MemberRepository) ListRewardable(ctx context.Context) ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.WithContext(ctx).
		Where("is_blacklisted = ? AND is_reward_blocked = ?", false, false).
		Order("id ASC").
		Find(&members).Error
	return members, err
}

// GetSponsorChild 取某方向上的直接子节点（每方向至多一个）
func (r *MemberRepository) GetSponsorChild(ctx context.Context, parentID int64, direction string) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).
		Where("sponsor_id = ? AND sponsor_direction = ?", parentID, direction).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// CreditReward 原子入账：流水生效后把同额计入可提现与可用余额。
// 必须用 balance += delta 形式更新，不能读改写，防止批次间偶发重叠丢更新。
func (r *MemberRepository) CreditReward(ctx context.Context, tx *gorm.DB, memberID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", memberID).
		Updates(map[string]interface{}{
			"withdrawable_point": gorm.Expr("withdrawable_point + ?", amount),
			"point_balance":      gorm.Expr("point_balance + ?", amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// UpdateLineage 血统修复专用：回写祖先缓存列与后援物化路径
func (r *MemberRepository) UpdateLineage(ctx context.Context, tx *gorm.DB, member *model.Member) error {
	if tx == nil {
		tx = r.db
	}
	updates := map[string]interface{}{
		"sponsor_path": member.SponsorPath,
	}
	for i, ancestor := range member.RecAncestors() {
		updates[recColumn(i+1)] = ancestor
	}
	return tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", member.ID).
		Updates(updates).Error
}

var recColumns = []string{
	"rec_1", "rec_2", "rec_3", "rec_4", "rec_5",
	"rec_6", "rec_7", "rec_8", "rec_9", "rec_10",
	"rec_11", "rec_12", "rec_13", "rec_14", "rec_15",
}

func recColumn(level int) string {
	return recColumns[level-1]
}

// ============================================================
// 中心
// ============================================================

type CenterRepository struct {
	db *gorm.DB
}

func NewCenterRepository(db *gorm.DB) *CenterRepository {
	return &CenterRepository{db: db}
}

func (r *CenterRepository) GetByID(ctx context.Context, id int64) (*model.Center, error) {
	var center model.Center
	err := r.db.WithContext(ctx).First(&center, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCenterNotFound
		}
		return nil, err
	}
	return &center, nil
}

// MapByIDs 批量加载中心，按 ID 建索引
func (r *CenterRepository) MapByIDs(ctx context.Context, ids []int64) (map[int64]*model.Center, error) {
	result := make(map[int64]*model.Center, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var centers []*model.Center
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&centers).Error; err != nil {
		return nil, err
	}
	for _, c := range centers {
		result[c.ID] = c
	}
	return result, nil
}
