package service

import (
	"context"
	"fmt"

	"rewardengine/internal/model"
	"rewardengine/internal/repository"

	"gorm.io/gorm"
)

// LedgerService 奖金流水写入
//
// 【关键点】写入契约：
// 1. 幂等：命中幂等键的写入静默跳过，不算错误，也绝不覆盖历史金额
// 2. 原子：流水插入与余额递增在同一事务，要么都可见要么都不可见
// 3. 零额流水照常落库并占用幂等键，防止额度释放后历史日期被补发
type LedgerService struct {
	db         *gorm.DB
	rewardRepo *repository.RewardRepository
	memberRepo *repository.MemberRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		db:         db,
		rewardRepo: repository.NewRewardRepository(db),
		memberRepo: repository.NewMemberRepository(db),
	}
}

// Record 在调用方事务内写一条流水。
// 返回是否真的插入了新行；幂等跳过时返回 false 且不产生任何副作用。
// 中心类手续费写入时 is_released=0，不动余额，等周释放批次统一入账。
func (s *LedgerService) Record(ctx context.Context, tx *gorm.DB, entry *model.RewardLog, allocs []SlotAllocation) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	inserted, err := s.recordWithoutCredit(ctx, tx, entry, allocs)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if entry.Amount > 0 && !model.IsCenterRewardType(entry.Type) {
		if err := s.memberRepo.CreditReward(ctx, tx, entry.MemberID, entry.Amount); err != nil {
			return false, fmt.Errorf("余额入账失败: %w", err)
		}
	}
	return true, nil
}

// PendingEntry 批量写入的一个单元：流水 + 槽位扣减明细
type PendingEntry struct {
	Entry  *model.RewardLog
	Allocs []SlotAllocation
}

// WriteBatch 每日批次的批量落库：按 batchSize 分段，每段一个事务写入流水与
// 扣减明细，余额递增按会员合并成一次 balance += sum 更新，压低写放大。
// 段内流水与余额同提交同回滚；某段失败时已提交的段不回滚——重跑会撞幂等键
// 跳过已落库的条目，从失败段安全续跑。返回已提交的插入条数。
func (s *LedgerService) WriteBatch(ctx context.Context, pending []*PendingEntry, batchSize int) (int, error) {
	if len(pending) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = len(pending)
	}
	inserted := 0
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		chunkInserted := 0
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			chunkInserted = 0
			credits := make(map[int64]int64)
			for _, p := range chunk {
				ok, err := s.recordWithoutCredit(ctx, tx, p.Entry, p.Allocs)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				chunkInserted++
				if p.Entry.Amount > 0 && !model.IsCenterRewardType(p.Entry.Type) {
					credits[p.Entry.MemberID] += p.Entry.Amount
				}
			}
			for memberID, amount := range credits {
				if err := s.memberRepo.CreditReward(ctx, tx, memberID, amount); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return inserted, err
		}
		inserted += chunkInserted
	}
	return inserted, nil
}

func (s *LedgerService) recordWithoutCredit(ctx context.Context, tx *gorm.DB, entry *model.RewardLog, allocs []SlotAllocation) (bool, error) {
	// 非中心类写入即释放；中心类等周释放批次置位
	entry.IsReleased = !model.IsCenterRewardType(entry.Type)
	ok, err := s.rewardRepo.InsertIgnore(ctx, tx, entry)
	if err != nil {
		return false, fmt.Errorf("写入奖金流水失败: %w", err)
	}
	if !ok {
		return false, nil
	}
	if len(allocs) > 0 {
		rows := make([]*model.RewardAllocation, 0, len(allocs))
		for _, a := range allocs {
			rows = append(rows, &model.RewardAllocation{
				RewardLogID: entry.ID,
				MemberID:    entry.MemberID,
				PurchaseID:  a.PurchaseID,
				Amount:      a.Amount,
			})
		}
		if err := s.rewardRepo.CreateAllocations(ctx, tx, rows); err != nil {
			return false, fmt.Errorf("写入槽位扣减失败: %w", err)
		}
	}
	return true, nil
}
