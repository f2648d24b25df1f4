package job

import (
	"context"
	"testing"
	"time"

	"rewardengine/internal/model"
	"rewardengine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 买家 10 归属中心 1（所有人 20，其推荐人 30）。
// 收费人都有自己的槽位，购买发生在 2026-01-14（周三）。
func seedCenterFixture(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create([]*model.Member{
		{ID: 10, Username: "buyer", CenterID: testutil.Int64Ptr(1)},
		{ID: 20, Username: "owner", RecommenderID: testutil.Int64Ptr(30)},
		{ID: 30, Username: "owner-rec"},
	}).Error)
	require.NoError(t, db.Create(&model.Center{ID: 1, Name: "第一中心", OwnerMemberID: 20}).Error)
	require.NoError(t, db.Create([]*model.Purchase{
		{ID: 1, MemberID: 20, PV: 100, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved,
			CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: 2, MemberID: 30, PV: 100, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved,
			CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: 3, MemberID: 10, PV: 2000, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved,
			CreatedAt: time.Date(2026, 1, 14, 12, 0, 0, 0, time.UTC)},
	}).Error)
	require.NoError(t, db.Create([]*model.BonusConfig{
		{RewardType: model.RewardTypeCenter, Level: 0, Rate: 2}, // 百分数存法 -> 0.02
		{RewardType: model.RewardTypeCenterRecommend, Level: 0, Rate: 0.005},
	}).Error)
}

func TestCenterFeeRun(t *testing.T) {
	db := testutil.OpenTestDB(t)
	seedCenterFixture(t, db)
	j := NewCenterFeeJob(db, testConfig())
	ctx := context.Background()

	require.NoError(t, j.Run(ctx, "2026-01-14"))

	// 中心所有人：floor(2000 * 0.02) = 40，写入即未释放
	var ownerFee model.RewardLog
	require.NoError(t, db.Where("member_id = ? AND type = ?", 20, model.RewardTypeCenter).First(&ownerFee).Error)
	assert.Equal(t, int64(40), ownerFee.Amount)
	assert.Equal(t, int64(3), ownerFee.Source)
	assert.False(t, ownerFee.IsReleased)

	// 所有人的推荐人：floor(2000 * 0.005) = 10
	var recFee model.RewardLog
	require.NoError(t, db.Where("member_id = ? AND type = ?", 30, model.RewardTypeCenterRecommend).First(&recFee).Error)
	assert.Equal(t, int64(10), recFee.Amount)
	assert.False(t, recFee.IsReleased)

	// 释放前余额一律不动
	var owner, rec model.Member
	require.NoError(t, db.First(&owner, 20).Error)
	require.NoError(t, db.First(&rec, 30).Error)
	assert.Equal(t, int64(0), owner.PointBalance)
	assert.Equal(t, int64(0), rec.PointBalance)

	// 重跑：同一笔购买不重复收费（哪怕换个目标日）
	require.NoError(t, j.Run(ctx, "2026-01-14"))
	require.NoError(t, j.Run(ctx, "2026-01-15"))
	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestCenterFeeBlockedOwner(t *testing.T) {
	db := testutil.OpenTestDB(t)
	seedCenterFixture(t, db)
	require.NoError(t, db.Model(&model.Member{}).Where("id = ?", 20).
		Update("is_reward_blocked", true).Error)

	j := NewCenterFeeJob(db, testConfig())
	require.NoError(t, j.Run(context.Background(), "2026-01-14"))

	// 冻结的所有人：零额流水留痕，幂等键照常占用
	var ownerFee model.RewardLog
	require.NoError(t, db.Where("member_id = ? AND type = ?", 20, model.RewardTypeCenter).First(&ownerFee).Error)
	assert.Equal(t, int64(0), ownerFee.Amount)
	assert.Equal(t, MemoMemberBlocked, ownerFee.Memo)

	// 推荐人不受所有人冻结影响
	var recFee model.RewardLog
	require.NoError(t, db.Where("member_id = ? AND type = ?", 30, model.RewardTypeCenterRecommend).First(&recFee).Error)
	assert.Equal(t, int64(10), recFee.Amount)
}

func TestCenterFeeOwnerWithoutSlots(t *testing.T) {
	db := testutil.OpenTestDB(t)
	seedCenterFixture(t, db)
	// 抽掉所有人 20 自己的购买：没有槽位可扣
	require.NoError(t, db.Delete(&model.Purchase{}, 1).Error)

	j := NewCenterFeeJob(db, testConfig())
	require.NoError(t, j.Run(context.Background(), "2026-01-14"))

	// 无可用槽位：零额流水留痕并占用幂等键
	var ownerFee model.RewardLog
	require.NoError(t, db.Where("member_id = ? AND type = ?", 20, model.RewardTypeCenter).First(&ownerFee).Error)
	assert.Equal(t, int64(0), ownerFee.Amount)
	assert.Equal(t, MemoNoSlotCapacity, ownerFee.Memo)

	// 重跑不补发
	require.NoError(t, j.Run(context.Background(), "2026-01-14"))
	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).
		Where("member_id = ? AND type = ?", 20, model.RewardTypeCenter).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 推荐人 30 的槽位还在，照常收费
	var recFee model.RewardLog
	require.NoError(t, db.Where("member_id = ? AND type = ?", 30, model.RewardTypeCenterRecommend).First(&recFee).Error)
	assert.Equal(t, int64(10), recFee.Amount)
}

func TestCenterReleaseRun(t *testing.T) {
	db := testutil.OpenTestDB(t)
	seedCenterFixture(t, db)
	j := NewCenterFeeJob(db, testConfig())
	release := NewCenterReleaseJob(db, testConfig())
	ctx := context.Background()

	require.NoError(t, j.Run(ctx, "2026-01-14"))

	// 2026-01-20（周二）触发：释放上周（01-12 ~ 01-18）的未释放流水
	now := time.Date(2026, 1, 20, 2, 0, 0, 0, time.UTC)
	require.NoError(t, release.Run(ctx, now))

	var owner, rec model.Member
	require.NoError(t, db.First(&owner, 20).Error)
	require.NoError(t, db.First(&rec, 30).Error)
	assert.Equal(t, int64(40), owner.PointBalance)
	assert.Equal(t, int64(40), owner.WithdrawablePoint)
	assert.Equal(t, int64(10), rec.PointBalance)

	var unreleased int64
	require.NoError(t, db.Model(&model.RewardLog{}).Where("is_released = ?", false).Count(&unreleased).Error)
	assert.Equal(t, int64(0), unreleased)

	// 同一周重复触发：闸门挡住，不会二次入账
	require.NoError(t, release.Run(ctx, now.Add(24*time.Hour)))
	require.NoError(t, db.First(&owner, 20).Error)
	assert.Equal(t, int64(40), owner.PointBalance)

	var weekMark model.Setting
	require.NoError(t, db.Where("setting_key = ?", model.SettingCenterReleaseWeek).First(&weekMark).Error)
	assert.Equal(t, "2026-W04", weekMark.Value)
}

func TestPreviousWeekRange(t *testing.T) {
	loc := time.UTC
	// 周二
	start, end := previousWeekRange(time.Date(2026, 1, 20, 10, 0, 0, 0, loc))
	assert.Equal(t, "2026-01-12", start)
	assert.Equal(t, "2026-01-18", end)
	// 周一当天也取完整的上一周
	start, end = previousWeekRange(time.Date(2026, 1, 19, 0, 0, 0, 0, loc))
	assert.Equal(t, "2026-01-12", start)
	assert.Equal(t, "2026-01-18", end)
	// 周日
	start, end = previousWeekRange(time.Date(2026, 1, 18, 23, 0, 0, 0, loc))
	assert.Equal(t, "2026-01-05", start)
	assert.Equal(t, "2026-01-11", end)
}
