package model

import (
	"strconv"
	"strings"
	"time"
)

// Member 会员表
// 推荐关系（recommender_id 单父链）与后援二叉树（sponsor_id + 方向）是两套
// 互相独立的层级。rec_1..rec_15 是注册时缓存的推荐人祖先数组，sponsor_path
// 是后援树的物化路径，两者只在注册或管理端血统修复时写入，奖金引擎只读。
type Member struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Username      string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	RecommenderID *int64 `gorm:"index" json:"recommender_id"`

	// 推荐人祖先缓存（1 级在前，不足 15 级的留 NULL）
	Rec1  *int64 `gorm:"column:rec_1" json:"rec_1"`
	Rec2  *int64 `gorm:"column:rec_2" json:"rec_2"`
	Rec3  *int64 `gorm:"column:rec_3" json:"rec_3"`
	Rec4  *int64 `gorm:"column:rec_4" json:"rec_4"`
	Rec5  *int64 `gorm:"column:rec_5" json:"rec_5"`
	Rec6  *int64 `gorm:"column:rec_6" json:"rec_6"`
	Rec7  *int64 `gorm:"column:rec_7" json:"rec_7"`
	Rec8  *int64 `gorm:"column:rec_8" json:"rec_8"`
	Rec9  *int64 `gorm:"column:rec_9" json:"rec_9"`
	Rec10 *int64 `gorm:"column:rec_10" json:"rec_10"`
	Rec11 *int64 `gorm:"column:rec_11" json:"rec_11"`
	Rec12 *int64 `gorm:"column:rec_12" json:"rec_12"`
	Rec13 *int64 `gorm:"column:rec_13" json:"rec_13"`
	Rec14 *int64 `gorm:"column:rec_14" json:"rec_14"`
	Rec15 *int64 `gorm:"column:rec_15" json:"rec_15"`

	// 后援二叉树：每个父节点每个方向至多一个子节点
	SponsorID        *int64 `gorm:"index" json:"sponsor_id"`
	SponsorDirection string `gorm:"type:varchar(1)" json:"sponsor_direction"` // L / R
	// 物化路径，形如 |1|5|12|，首尾必须是 |，末段是自己的 ID
	SponsorPath string `gorm:"type:varchar(2048);index" json:"sponsor_path"`

	CenterID *int64 `gorm:"index" json:"center_id"`

	IsRewardBlocked bool `gorm:"not null;default:0" json:"is_reward_blocked"`
	IsBlacklisted   bool `gorm:"not null;default:0" json:"is_blacklisted"`

	PointBalance      int64 `gorm:"not null;default:0" json:"point_balance"`      // 可用余额
	WithdrawablePoint int64 `gorm:"not null;default:0" json:"withdrawable_point"` // 累计可提现
	ShoppingPoint     int64 `gorm:"not null;default:0" json:"shopping_point"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Member) TableName() string {
	return "members"
}

const (
	SponsorLeft  = "L"
	SponsorRight = "R"

	// RecommenderDepth 推荐奖上限层级，也是 rec_N 缓存列的个数
	RecommenderDepth = 15
)

// RecAncestors 按层级顺序返回 15 个祖先缓存槽（含 NULL 占位）
func (m *Member) RecAncestors() []*int64 {
	return []*int64{
		m.Rec1, m.Rec2, m.Rec3, m.Rec4, m.Rec5,
		m.Rec6, m.Rec7, m.Rec8, m.Rec9, m.Rec10,
		m.Rec11, m.Rec12, m.Rec13, m.Rec14, m.Rec15,
	}
}

// SetRecAncestors 回填祖先缓存列，入参必须正好 15 个槽
func (m *Member) SetRecAncestors(ancestors []*int64) {
	slots := []**int64{
		&m.Rec1, &m.Rec2, &m.Rec3, &m.Rec4, &m.Rec5,
		&m.Rec6, &m.Rec7, &m.Rec8, &m.Rec9, &m.Rec10,
		&m.Rec11, &m.Rec12, &m.Rec13, &m.Rec14, &m.Rec15,
	}
	for i, slot := range slots {
		if i < len(ancestors) {
			*slot = ancestors[i]
		} else {
			*slot = nil
		}
	}
}

// SponsorPathSegment 物化路径里单个 ID 的包含判定片段："|id|"。
// 路径首尾都是 |，所以子串匹配对任意 ID 都无歧义（|1| 不会误中 |11|）。
func SponsorPathSegment(id int64) string {
	return "|" + strconv.FormatInt(id, 10) + "|"
}

// HasValidSponsorPath 路径必须以 | 开头、以 |自身ID| 结尾
func (m *Member) HasValidSponsorPath() bool {
	return strings.HasPrefix(m.SponsorPath, "|") &&
		strings.HasSuffix(m.SponsorPath, SponsorPathSegment(m.ID))
}

// BuildSponsorPath 在父路径之后追加自身 ID；根节点父路径传空串
func BuildSponsorPath(parentPath string, selfID int64) string {
	if parentPath == "" {
		return SponsorPathSegment(selfID)
	}
	return parentPath + strconv.FormatInt(selfID, 10) + "|"
}

// Center 销售中心
// 购买记录通过购买人 member 的 center_id 归属中心；中心手续费支付给中心所有人，
// 中心推荐费支付给中心所有人的推荐人。
type Center struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"type:varchar(64);not null" json:"name"`
	OwnerMemberID int64     `gorm:"index;not null" json:"owner_member_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Center) TableName() string {
	return "centers"
}
