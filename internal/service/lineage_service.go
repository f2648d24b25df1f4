package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"rewardengine/internal/model"
	"rewardengine/internal/repository"

	"gorm.io/gorm"
)

// LineageService 血统解析
// 两套层级分开处理：推荐链走 recommender_id 单父指针，后援二叉树走
// sponsor_id + 方向，子树归属靠物化路径的子串包含判断，热路径上不做递归查询。
type LineageService struct {
	db           *gorm.DB
	memberRepo   *repository.MemberRepository
	purchaseRepo *repository.PurchaseRepository
}

func NewLineageService(db *gorm.DB) *LineageService {
	return &LineageService{
		db:           db,
		memberRepo:   repository.NewMemberRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
	}
}

// RecommenderGraph 整表 (id -> recommender_id) 映射，一次加载后全内存解析，
// 全员跑批时避免 N 个会员 N 次查询。
type RecommenderGraph map[int64]*int64

// LoadRecommenderGraph 加载全部会员的推荐父指针
func (s *LineageService) LoadRecommenderGraph(ctx context.Context) (RecommenderGraph, error) {
	type pair struct {
		ID            int64
		RecommenderID *int64
	}
	var pairs []pair
	err := s.db.WithContext(ctx).
		Model(&model.Member{}).
		Select("id", "recommender_id").
		Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("加载推荐关系失败: %w", err)
	}
	graph := make(RecommenderGraph, len(pairs))
	for _, p := range pairs {
		graph[p.ID] = p.RecommenderID
	}
	return graph, nil
}

// ResolveRecommenderLineage 解析推荐人祖先，返回值恒为 depth 个槽（缺位补 NULL）。
// 终止条件：父指针为 NULL、达到 depth、或回到已访问过的 ID（环防御，截断并告警）。
func (s *LineageService) ResolveRecommenderLineage(graph RecommenderGraph, memberID int64, depth int) []*int64 {
	ancestors := make([]*int64, depth)
	seen := map[int64]bool{memberID: true}

	current := memberID
	for level := 0; level < depth; level++ {
		parent, ok := graph[current]
		if !ok || parent == nil {
			break
		}
		if seen[*parent] {
			log.Printf("[Lineage] 会员 %d 的推荐链在 %d 处成环，截断于 %d 级", memberID, *parent, level)
			break
		}
		id := *parent
		ancestors[level] = &id
		seen[id] = true
		current = id
	}
	return ancestors
}

// SubtreePV 某方向子树自 sinceDate 起的 normal 审批购买 PV 合计。
// 该方向没有子节点时返回 0；子树内左右两侧不再区分（整棵收拢）。
func (s *LineageService) SubtreePV(ctx context.Context, memberID int64, direction string, since time.Time) (int64, error) {
	child, err := s.memberRepo.GetSponsorChild(ctx, memberID, direction)
	if err != nil {
		return 0, fmt.Errorf("查询 %s 侧子节点失败: %w", direction, err)
	}
	if child == nil {
		return 0, nil
	}
	// 路径坏了就地重建再查，不让一条脏数据卡死整个批次
	if !child.HasValidSponsorPath() {
		log.Printf("[Lineage] 会员 %d 的 sponsor_path=%q 非法，重建", child.ID, child.SponsorPath)
		if _, err := s.RebuildSponsorPath(ctx, child.ID); err != nil {
			return 0, err
		}
	}
	return s.purchaseRepo.SumSubtreeNormalPV(ctx, child.ID, since)
}

// RebuildSponsorPath 沿 sponsor_id 向上重走一遍，重建物化路径并落库。
// 环防御与推荐链一致：遇到重复 ID 即截断。
func (s *LineageService) RebuildSponsorPath(ctx context.Context, memberID int64) (string, error) {
	member, err := s.memberRepo.GetByID(ctx, memberID)
	if err != nil {
		return "", err
	}

	// 自底向上收集 ID，再倒序拼路径
	chain := []int64{memberID}
	seen := map[int64]bool{memberID: true}
	current := member
	for current.SponsorID != nil {
		parentID := *current.SponsorID
		if seen[parentID] {
			log.Printf("[Lineage] 会员 %d 的后援链在 %d 处成环，截断", memberID, parentID)
			break
		}
		parent, err := s.memberRepo.GetByID(ctx, parentID)
		if err != nil {
			if err == repository.ErrMemberNotFound {
				log.Printf("[Lineage] 会员 %d 的后援父节点 %d 不存在，截断", memberID, parentID)
				break
			}
			return "", err
		}
		chain = append(chain, parentID)
		seen[parentID] = true
		current = parent
	}

	path := ""
	for i := len(chain) - 1; i >= 0; i-- {
		path = model.BuildSponsorPath(path, chain[i])
	}

	member.SponsorPath = path
	if err := s.memberRepo.UpdateLineage(ctx, nil, member); err != nil {
		return "", fmt.Errorf("回写 sponsor_path 失败: %w", err)
	}
	return path, nil
}

// RepairAllLineage 管理端血统修复：整表重算 rec_1..rec_15 与 sponsor_path。
// 奖金引擎本身从不改血统字段，这是唯一的重算入口。
func (s *LineageService) RepairAllLineage(ctx context.Context) (int, error) {
	members, err := s.memberRepo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("加载会员失败: %w", err)
	}

	graph := make(RecommenderGraph, len(members))
	sponsorGraph := make(map[int64]*int64, len(members))
	for _, m := range members {
		graph[m.ID] = m.RecommenderID
		sponsorGraph[m.ID] = m.SponsorID
	}

	repaired := 0
	for _, m := range members {
		m.SetRecAncestors(s.ResolveRecommenderLineage(graph, m.ID, model.RecommenderDepth))
		m.SponsorPath = rebuildPathInMemory(sponsorGraph, m.ID)

		if err := s.memberRepo.UpdateLineage(ctx, nil, m); err != nil {
			// 单个会员失败不中断整体修复
			log.Printf("[Lineage] 会员 %d 血统回写失败: %v", m.ID, err)
			continue
		}
		repaired++
	}
	log.Printf("[Lineage] 血统修复完成: %d/%d", repaired, len(members))
	return repaired, nil
}

func rebuildPathInMemory(sponsorGraph map[int64]*int64, memberID int64) string {
	chain := []int64{memberID}
	seen := map[int64]bool{memberID: true}
	current := memberID
	for {
		parent, ok := sponsorGraph[current]
		if !ok || parent == nil || seen[*parent] {
			break
		}
		chain = append(chain, *parent)
		seen[*parent] = true
		current = *parent
	}
	path := ""
	for i := len(chain) - 1; i >= 0; i-- {
		path = model.BuildSponsorPath(path, chain[i])
	}
	return path
}
