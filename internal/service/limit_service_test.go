package service

import (
	"context"
	"testing"

	"rewardengine/internal/model"
	"rewardengine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberSlotsAllocateFIFO(t *testing.T) {
	slots := &MemberSlots{
		MemberID: 1,
		Slots: []*Slot{
			{PurchaseID: 10, PV: 100, Remaining: 30},
			{PurchaseID: 11, PV: 100, Remaining: 50},
			{PurchaseID: 12, PV: 100, Remaining: 100},
		},
	}

	// 跨槽位分配：最旧的先耗尽
	allocs, paid, shortfall := slots.Allocate(60)
	require.Len(t, allocs, 2)
	assert.Equal(t, SlotAllocation{PurchaseID: 10, Amount: 30}, allocs[0])
	assert.Equal(t, SlotAllocation{PurchaseID: 11, Amount: 30}, allocs[1])
	assert.Equal(t, int64(60), paid)
	assert.Equal(t, int64(0), shortfall)

	// 就地递减：第二次分配看到第一次占掉的容量
	allocs, paid, shortfall = slots.Allocate(150)
	require.Len(t, allocs, 2)
	assert.Equal(t, SlotAllocation{PurchaseID: 11, Amount: 20}, allocs[0])
	assert.Equal(t, SlotAllocation{PurchaseID: 12, Amount: 100}, allocs[1])
	assert.Equal(t, int64(120), paid)
	assert.Equal(t, int64(30), shortfall)

	// 全部耗尽后只剩缺口
	allocs, paid, shortfall = slots.Allocate(5)
	assert.Empty(t, allocs)
	assert.Equal(t, int64(0), paid)
	assert.Equal(t, int64(5), shortfall)
	assert.False(t, slots.HasAnyAvailable())
}

func TestLoadSlotBookLimitRates(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLimitService(db)
	ctx := context.Background()

	require.NoError(t, db.Create([]*model.Member{
		// 1 有 normal 审批购买，是合格推荐人
		{ID: 1, Username: "sponsor-ok"},
		// 2 的推荐人合格 -> normal 按 2.0 倍
		{ID: 2, Username: "qualified", RecommenderID: testutil.Int64Ptr(1)},
		// 3 的推荐人只有 bcode -> 1.5 倍
		{ID: 3, Username: "unqualified", RecommenderID: testutil.Int64Ptr(4)},
		{ID: 4, Username: "sponsor-bcode"},
		// 5 没有推荐人 -> 1.5 倍
		{ID: 5, Username: "orphan"},
	}).Error)
	require.NoError(t, db.Create([]*model.Purchase{
		{ID: 1, MemberID: 1, PV: 100, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved},
		{ID: 2, MemberID: 4, PV: 100, Type: model.PurchaseTypeBcode, Status: model.PurchaseStatusApproved},
		{ID: 3, MemberID: 2, PV: 1000, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved},
		{ID: 4, MemberID: 3, PV: 1000, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved},
		{ID: 5, MemberID: 5, PV: 1000, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved},
		// bcode 购买固定 1.0 倍
		{ID: 6, MemberID: 5, PV: 200, Type: model.PurchaseTypeBcode, Status: model.PurchaseStatusApproved},
		// 未审批购买不是槽位
		{ID: 7, MemberID: 2, PV: 9999, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusPending},
	}).Error)

	book, err := svc.LoadSlotBook(ctx, []int64{2, 3, 5})
	require.NoError(t, err)

	assert.Equal(t, int64(2000), book.Available(2))
	assert.Equal(t, int64(1500), book.Available(3))
	assert.Equal(t, int64(1700), book.Available(5))

	require.Len(t, book.Member(2).Slots, 1)
	assert.Equal(t, int64(2000), book.Member(2).Slots[0].Remaining)
	require.Len(t, book.Member(5).Slots, 2)
	assert.Equal(t, int64(200), book.Member(5).Slots[1].Remaining)
}

func TestLoadSlotBookSubtractsHistory(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLimitService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Member{ID: 1, Username: "m"}).Error)
	require.NoError(t, db.Create(&model.Purchase{
		ID: 1, MemberID: 1, PV: 100, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved,
	}).Error)
	// 历史流水消耗 60 额度，其中 60 扣在槽位 1 上
	require.NoError(t, db.Create(&model.RewardLog{
		MemberID: 1, Type: model.RewardTypeDaily, Source: 1, RefID: 1,
		RewardDate: "2026-01-14", Amount: 60, IsReleased: true,
	}).Error)
	require.NoError(t, db.Create(&model.RewardAllocation{
		RewardLogID: 1, MemberID: 1, PurchaseID: 1, Amount: 60,
	}).Error)
	// 中心手续费不计入上限池
	require.NoError(t, db.Create(&model.RewardLog{
		MemberID: 1, Type: model.RewardTypeCenter, Source: 99, RefID: 99,
		RewardDate: "2026-01-14", Amount: 500,
	}).Error)

	book, err := svc.LoadSlotBook(ctx, []int64{1})
	require.NoError(t, err)

	// 无推荐人 -> 1.5 倍 = 150，减历史 60
	assert.Equal(t, int64(90), book.Available(1))
	require.Len(t, book.Member(1).Slots, 1)
	assert.Equal(t, int64(90), book.Member(1).Slots[0].Remaining)
}

func TestAllocateWithinClampsToAvailable(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewLimitService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Member{ID: 1, Username: "m"}).Error)
	require.NoError(t, db.Create(&model.Purchase{
		ID: 1, MemberID: 1, PV: 100, Type: model.PurchaseTypeBcode, Status: model.PurchaseStatusApproved,
	}).Error)

	book, err := svc.LoadSlotBook(ctx, []int64{1})
	require.NoError(t, err)
	require.Equal(t, int64(100), book.Available(1))

	// 请求 130，只能付 100，缺口 30
	allocs, paid, _ := book.AllocateWithin(1, 130)
	require.Len(t, allocs, 1)
	assert.Equal(t, int64(100), paid)
	assert.Equal(t, int64(0), book.Available(1))

	// 额度归零后继续请求：一分不付
	allocs, paid, _ = book.AllocateWithin(1, 10)
	assert.Empty(t, allocs)
	assert.Equal(t, int64(0), paid)

	// 未预载的会员同样一分不付
	_, paid, _ = book.AllocateWithin(42, 10)
	assert.Equal(t, int64(0), paid)
}
