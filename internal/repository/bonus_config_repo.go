package repository

import (
	"context"
	"log"

	"rewardengine/internal/model"

	"gorm.io/gorm"
)

// 费率缺失时的安全默认值：一律 0（不发钱），绝不猜一个非零费率。
// 集中定义，测试可以精确断言默认行为。
const (
	DefaultDailyRate           = 0.0
	DefaultMatchingRate        = 0.0
	DefaultSponsorRate         = 0.0
	DefaultCenterRate          = 0.0
	DefaultCenterRecommendRate = 0.0
)

// RateTable 一次批次运行所需的全部费率，已归一化为小数。
// 费率归一化只发生在 LoadRateTable 这一处：存储值大于 1 的按百分数处理。
type RateTable struct {
	Daily           float64
	Sponsor         float64
	Center          float64
	CenterRecommend float64
	// Matching[1..15]；Matching[0] 不使用
	Matching [model.RecommenderDepth + 1]float64
}

// HasMatchingRate 该层级是否配置了非零匹配费率
func (t *RateTable) HasMatchingRate(level int) bool {
	return level >= 1 && level <= model.RecommenderDepth && t.Matching[level] > 0
}

type BonusConfigRepository struct {
	db *gorm.DB
}

func NewBonusConfigRepository(db *gorm.DB) *BonusConfigRepository {
	return &BonusConfigRepository{db: db}
}

// LoadRateTable 整表加载费率并归一化，每次批次运行调用一次
func (r *BonusConfigRepository) LoadRateTable(ctx context.Context) (*RateTable, error) {
	var configs []*model.BonusConfig
	if err := r.db.WithContext(ctx).Find(&configs).Error; err != nil {
		return nil, err
	}

	table := &RateTable{
		Daily:           DefaultDailyRate,
		Sponsor:         DefaultSponsorRate,
		Center:          DefaultCenterRate,
		CenterRecommend: DefaultCenterRecommendRate,
	}
	for i := range table.Matching {
		table.Matching[i] = DefaultMatchingRate
	}

	for _, cfg := range configs {
		rate := normalizeRate(cfg.Rate)
		switch cfg.RewardType {
		case model.RewardTypeDaily:
			table.Daily = rate
		case model.RewardTypeSponsor:
			table.Sponsor = rate
		case model.RewardTypeCenter:
			table.Center = rate
		case model.RewardTypeCenterRecommend:
			table.CenterRecommend = rate
		case model.RewardTypeDailyMatching:
			if cfg.Level >= 1 && cfg.Level <= model.RecommenderDepth {
				table.Matching[cfg.Level] = rate
			} else {
				log.Printf("[BonusConfig] daily_matching 层级 %d 超出 1..%d，忽略", cfg.Level, model.RecommenderDepth)
			}
		default:
			// referral/adjust 等类型不走费率表
		}
	}
	return table, nil
}

// normalizeRate 存储数据契约：值 ≤ 1 是小数费率，> 1 是百分数
func normalizeRate(stored float64) float64 {
	if stored > 1 {
		return stored / 100
	}
	return stored
}
