package repository

import (
	"context"
	"errors"

	"rewardengine/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// Get 取会员的对碰检查点；从未发放过时返回零值检查点
func (r *CommissionRepository) Get(ctx context.Context, memberID int64) (*model.Commission, error) {
	var commission model.Commission
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		First(&commission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.Commission{MemberID: memberID}, nil
		}
		return nil, err
	}
	return &commission, nil
}

// Upsert 推进检查点。paid 只会前进，与流水写入同事务提交。
func (r *CommissionRepository) Upsert(ctx context.Context, tx *gorm.DB, commission *model.Commission) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "member_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"left_pv", "right_pv", "matched_pv", "paid",
			}),
		}).
		Create(commission).Error
}
