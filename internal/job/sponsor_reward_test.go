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

// 二叉树：1 为根，2 挂左、3 挂右。1 先有首购，之后左右各进一笔业绩。
func seedSponsorFixture(t *testing.T, db *gorm.DB) time.Time {
	t.Helper()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create([]*model.Member{
		{ID: 1, Username: "root", SponsorPath: "|1|"},
		{ID: 2, Username: "left", SponsorID: testutil.Int64Ptr(1), SponsorDirection: model.SponsorLeft, SponsorPath: "|1|2|"},
		{ID: 3, Username: "right", SponsorID: testutil.Int64Ptr(1), SponsorDirection: model.SponsorRight, SponsorPath: "|1|3|"},
	}).Error)
	require.NoError(t, db.Create([]*model.Purchase{
		// 根的首购：对碰资格起点，也是 1500 上限的槽位
		{ID: 1, MemberID: 1, PV: 1000, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved, CreatedAt: base},
		{ID: 2, MemberID: 2, PV: 500, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved, CreatedAt: base.Add(time.Hour)},
		{ID: 3, MemberID: 3, PV: 300, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved, CreatedAt: base.Add(2 * time.Hour)},
	}).Error)
	require.NoError(t, db.Create(&model.BonusConfig{
		RewardType: model.RewardTypeSponsor, Level: 0, Rate: 3, // 百分数存法 -> 0.03
	}).Error)
	return base
}

func TestSponsorRewardRun(t *testing.T) {
	db := testutil.OpenTestDB(t)
	seedSponsorFixture(t, db)
	// 之前已对碰到 100 PV
	require.NoError(t, db.Create(&model.Commission{
		MemberID: 1, LeftPV: 100, RightPV: 100, MatchedPV: 100, Paid: 100,
	}).Error)

	j := NewSponsorRewardJob(db, testConfig())
	require.NoError(t, j.Run(context.Background(), "2026-01-15"))

	// matched = min(500, 300) = 300，增量 200，floor(200 * 0.03) = 6
	var row model.RewardLog
	require.NoError(t, db.Where("member_id = ? AND type = ?", 1, model.RewardTypeSponsor).First(&row).Error)
	assert.Equal(t, int64(6), row.Amount)
	assert.Equal(t, "2026-01-15", row.RewardDate)

	// 检查点推进到已见的全部对碰量
	var checkpoint model.Commission
	require.NoError(t, db.Where("member_id = ?", 1).First(&checkpoint).Error)
	assert.Equal(t, int64(500), checkpoint.LeftPV)
	assert.Equal(t, int64(300), checkpoint.RightPV)
	assert.Equal(t, int64(300), checkpoint.MatchedPV)
	assert.Equal(t, int64(300), checkpoint.Paid)

	var m1 model.Member
	require.NoError(t, db.First(&m1, 1).Error)
	assert.Equal(t, int64(6), m1.PointBalance)

	// 业绩没变的重跑：增量为 0，不再发放
	require.NoError(t, j.Run(context.Background(), "2026-01-16"))
	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).Where("type = ?", model.RewardTypeSponsor).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSponsorRewardNoFirstPurchase(t *testing.T) {
	db := testutil.OpenTestDB(t)
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	// 根自己没有任何审批购买，左右业绩再多也不结算
	require.NoError(t, db.Create([]*model.Member{
		{ID: 1, Username: "root", SponsorPath: "|1|"},
		{ID: 2, Username: "left", SponsorID: testutil.Int64Ptr(1), SponsorDirection: model.SponsorLeft, SponsorPath: "|1|2|"},
		{ID: 3, Username: "right", SponsorID: testutil.Int64Ptr(1), SponsorDirection: model.SponsorRight, SponsorPath: "|1|3|"},
	}).Error)
	require.NoError(t, db.Create([]*model.Purchase{
		{ID: 1, MemberID: 2, PV: 500, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved, CreatedAt: base},
		{ID: 2, MemberID: 3, PV: 300, Type: model.PurchaseTypeNormal, Status: model.PurchaseStatusApproved, CreatedAt: base},
	}).Error)
	require.NoError(t, db.Create(&model.BonusConfig{
		RewardType: model.RewardTypeSponsor, Level: 0, Rate: 0.03,
	}).Error)

	j := NewSponsorRewardJob(db, testConfig())
	require.NoError(t, j.Run(context.Background(), "2026-01-15"))

	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).Where("member_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestSponsorRewardNegativeDelta(t *testing.T) {
	db := testutil.OpenTestDB(t)
	seedSponsorFixture(t, db)
	// 检查点领先于当前业绩（底层数据被改过）：告警跳过，不回退不发放
	require.NoError(t, db.Create(&model.Commission{
		MemberID: 1, LeftPV: 900, RightPV: 900, MatchedPV: 900, Paid: 900,
	}).Error)

	j := NewSponsorRewardJob(db, testConfig())
	require.NoError(t, j.Run(context.Background(), "2026-01-15"))

	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).Where("member_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	var checkpoint model.Commission
	require.NoError(t, db.Where("member_id = ?", 1).First(&checkpoint).Error)
	assert.Equal(t, int64(900), checkpoint.Paid)
}

func TestSponsorRewardSubPointIncrement(t *testing.T) {
	db := testutil.OpenTestDB(t)
	seedSponsorFixture(t, db)
	// 已对碰到 290：增量 10，floor(10 * 0.03) = 0，检查点不动、增量留到下次凑整
	require.NoError(t, db.Create(&model.Commission{
		MemberID: 1, LeftPV: 290, RightPV: 290, MatchedPV: 290, Paid: 290,
	}).Error)

	j := NewSponsorRewardJob(db, testConfig())
	require.NoError(t, j.Run(context.Background(), "2026-01-15"))

	var count int64
	require.NoError(t, db.Model(&model.RewardLog{}).Where("member_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	var checkpoint model.Commission
	require.NoError(t, db.Where("member_id = ?", 1).First(&checkpoint).Error)
	assert.Equal(t, int64(290), checkpoint.Paid)
}
