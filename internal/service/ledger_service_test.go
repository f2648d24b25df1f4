package service

import (
	"context"
	"testing"

	"rewardengine/internal/model"
	"rewardengine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIdempotent(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLedgerService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Member{ID: 1, Username: "m"}).Error)

	entry := &model.RewardLog{
		MemberID: 1, Type: model.RewardTypeDaily, Source: 1, RefID: 10,
		RewardDate: "2026-01-15", Amount: 20,
	}
	inserted, err := svc.Record(ctx, nil, entry, []SlotAllocation{{PurchaseID: 10, Amount: 20}})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, entry.IsReleased)

	// 同一幂等键重写：静默跳过，不报错
	dup := &model.RewardLog{
		MemberID: 1, Type: model.RewardTypeDaily, Source: 1, RefID: 10,
		RewardDate: "2026-01-15", Amount: 999,
	}
	inserted, err = svc.Record(ctx, nil, dup, nil)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 历史金额不被覆盖
	var stored model.RewardLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, int64(20), stored.Amount)

	// 余额只入账一次
	var member model.Member
	require.NoError(t, db.First(&member, 1).Error)
	assert.Equal(t, int64(20), member.PointBalance)
	assert.Equal(t, int64(20), member.WithdrawablePoint)

	var allocCount int64
	require.NoError(t, db.Model(&model.RewardAllocation{}).Count(&allocCount).Error)
	assert.Equal(t, int64(1), allocCount)
}

func TestRecordZeroAmountTakesKey(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLedgerService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Member{ID: 1, Username: "m"}).Error)

	zero := &model.RewardLog{
		MemberID: 1, Type: model.RewardTypeDaily, Source: 1, RefID: 10,
		RewardDate: "2026-01-15", Amount: 0, Memo: "额度耗尽",
	}
	inserted, err := svc.Record(ctx, nil, zero, nil)
	require.NoError(t, err)
	assert.True(t, inserted)

	// 零额流水占用幂等键，补发被挡住
	retry := &model.RewardLog{
		MemberID: 1, Type: model.RewardTypeDaily, Source: 1, RefID: 10,
		RewardDate: "2026-01-15", Amount: 20,
	}
	inserted, err = svc.Record(ctx, nil, retry, nil)
	require.NoError(t, err)
	assert.False(t, inserted)

	var member model.Member
	require.NoError(t, db.First(&member, 1).Error)
	assert.Equal(t, int64(0), member.PointBalance)
}

func TestRecordCenterTypeSkipsBalance(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLedgerService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Member{ID: 1, Username: "m"}).Error)

	entry := &model.RewardLog{
		MemberID: 1, Type: model.RewardTypeCenter, Source: 10, RefID: 10,
		RewardDate: "2026-01-15", Amount: 40,
	}
	inserted, err := svc.Record(ctx, nil, entry, nil)
	require.NoError(t, err)
	assert.True(t, inserted)
	// 中心类写入时未释放，余额不动
	assert.False(t, entry.IsReleased)

	var member model.Member
	require.NoError(t, db.First(&member, 1).Error)
	assert.Equal(t, int64(0), member.PointBalance)
	assert.Equal(t, int64(0), member.WithdrawablePoint)
}

func TestWriteBatchMergesCredits(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLedgerService(db)
	ctx := context.Background()

	require.NoError(t, db.Create([]*model.Member{
		{ID: 1, Username: "a"},
		{ID: 2, Username: "b"},
	}).Error)

	pending := []*PendingEntry{
		{Entry: &model.RewardLog{MemberID: 1, Type: model.RewardTypeDaily, Source: 1, RefID: 10, RewardDate: "2026-01-15", Amount: 20}},
		{Entry: &model.RewardLog{MemberID: 1, Type: model.RewardTypeDailyMatching, Source: 2, RefID: 11, RewardDate: "2026-01-15", Amount: 5}},
		{Entry: &model.RewardLog{MemberID: 2, Type: model.RewardTypeDaily, Source: 2, RefID: 11, RewardDate: "2026-01-15", Amount: 30}},
		// 零额行：落库但不入账
		{Entry: &model.RewardLog{MemberID: 2, Type: model.RewardTypeDailyMatching, Source: 1, RefID: 10, RewardDate: "2026-01-15", Amount: 0}},
	}
	inserted, err := svc.WriteBatch(ctx, pending, 200)
	require.NoError(t, err)
	assert.Equal(t, 4, inserted)

	var m1, m2 model.Member
	require.NoError(t, db.First(&m1, 1).Error)
	require.NoError(t, db.First(&m2, 2).Error)
	assert.Equal(t, int64(25), m1.PointBalance)
	assert.Equal(t, int64(30), m2.PointBalance)

	// 整批重放：全部命中幂等键，余额不变
	inserted, err = svc.WriteBatch(ctx, pending, 200)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	require.NoError(t, db.First(&m1, 1).Error)
	assert.Equal(t, int64(25), m1.PointBalance)
}

func TestWriteBatchChunked(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLedgerService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Member{ID: 1, Username: "m"}).Error)

	// 5 条流水、段大小 2：跨 3 段提交，结果与一次性落库一致
	pending := make([]*PendingEntry, 0, 5)
	for i := int64(1); i <= 5; i++ {
		pending = append(pending, &PendingEntry{Entry: &model.RewardLog{
			MemberID: 1, Type: model.RewardTypeDaily, Source: 1, RefID: i,
			RewardDate: "2026-01-15", Amount: 10,
		}})
	}
	inserted, err := svc.WriteBatch(ctx, pending, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)

	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).Count(&count).Error)
	assert.Equal(t, int64(5), count)

	var m1 model.Member
	require.NoError(t, db.First(&m1, 1).Error)
	assert.Equal(t, int64(50), m1.PointBalance)

	// 分段重放同样全程幂等
	inserted, err = svc.WriteBatch(ctx, pending, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	require.NoError(t, db.First(&m1, 1).Error)
	assert.Equal(t, int64(50), m1.PointBalance)
}
