package service

import (
	"context"
	"fmt"
	"math"

	"rewardengine/internal/model"
	"rewardengine/internal/repository"

	"gorm.io/gorm"
)

// 奖金上限的购买倍率。
// normal 购买：推荐人有至少一笔 normal 审批购买时 2.0 倍，否则 1.5 倍；
// bcode 购买：固定 1.0 倍。
const (
	LimitRateQualified   = 2.0
	LimitRateUnqualified = 1.5
	LimitRateBcode       = 1.0
)

// Slot 单个购买槽位的运行期状态
type Slot struct {
	PurchaseID   int64
	PurchaseType string
	PV           int64
	Remaining    int64 // 槽位上限 − 历史扣减，批次内就地递减
}

// SlotAllocation FIFO 分配结果的一段
type SlotAllocation struct {
	PurchaseID int64
	Amount     int64
}

// MemberSlots 会员的槽位列表，按购买 ID 升序（即 FIFO 顺序）
type MemberSlots struct {
	MemberID int64
	Slots    []*Slot
}

// Allocate 从最旧槽位起分配 requested，返回各槽位扣减与缺口。
// 就地递减 Remaining，同一批次内后续分配自动看到已占用的容量。
// 相同输入必然产生相同的分配序列：槽位顺序由购买 ID 决定，与时钟无关。
func (m *MemberSlots) Allocate(requested int64) ([]SlotAllocation, int64, int64) {
	var allocs []SlotAllocation
	var paid int64
	left := requested
	for _, slot := range m.Slots {
		if left <= 0 {
			break
		}
		if slot.Remaining <= 0 {
			continue
		}
		take := slot.Remaining
		if take > left {
			take = left
		}
		slot.Remaining -= take
		left -= take
		paid += take
		allocs = append(allocs, SlotAllocation{PurchaseID: slot.PurchaseID, Amount: take})
	}
	return allocs, paid, requested - paid
}

// HasAnyAvailable 是否还有任何槽位容量（中心手续费的发放门槛）
func (m *MemberSlots) HasAnyAvailable() bool {
	for _, slot := range m.Slots {
		if slot.Remaining > 0 {
			return true
		}
	}
	return false
}

// SlotBook 一次批次运行的额度台账：
// 每个会员批次开始时查一次可用额度与槽位状态，之后全部走本地递减，
// 循环中途绝不回库重查同一个会员。
type SlotBook struct {
	slots     map[int64]*MemberSlots
	available map[int64]int64 // available = max(上限合计 − 已消耗, 0)
}

// Member 取会员槽位；未预载的会员返回 nil
func (b *SlotBook) Member(memberID int64) *MemberSlots {
	return b.slots[memberID]
}

// Available 会员剩余可用额度（本地运行值）
func (b *SlotBook) Available(memberID int64) int64 {
	return b.available[memberID]
}

// AllocateWithin 先按会员总额度截断请求，再做槽位 FIFO 分配。
// 返回 (分配明细, 实付, 缺口)。缺口 = 截断后的请求 − 实付，只会在
// 槽位级容量比总额度更紧时出现（比如 adjust 类流水没有槽位明细）。
func (b *SlotBook) AllocateWithin(memberID int64, need int64) ([]SlotAllocation, int64, int64) {
	slots := b.slots[memberID]
	if slots == nil || need <= 0 {
		return nil, 0, need
	}
	requested := need
	if avail := b.available[memberID]; requested > avail {
		requested = avail
	}
	if requested <= 0 {
		return nil, 0, need
	}
	allocs, paid, shortfall := slots.Allocate(requested)
	b.available[memberID] -= paid
	return allocs, paid, shortfall
}

// LimitService 奖金上限计算
type LimitService struct {
	db           *gorm.DB
	memberRepo   *repository.MemberRepository
	purchaseRepo *repository.PurchaseRepository
	rewardRepo   *repository.RewardRepository
}

func NewLimitService(db *gorm.DB) *LimitService {
	return &LimitService{
		db:           db,
		memberRepo:   repository.NewMemberRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		rewardRepo:   repository.NewRewardRepository(db),
	}
}

// LoadSlotBook 批量预载会员的槽位状态与可用额度（每批次一次）。
// 槽位上限按购买类型与推荐人资格逐笔计算，已扣减取 reward_allocations 合计；
// 可用额度 = 槽位上限合计 − 计入上限池的流水合计。
func (s *LimitService) LoadSlotBook(ctx context.Context, memberIDs []int64) (*SlotBook, error) {
	book := &SlotBook{
		slots:     make(map[int64]*MemberSlots, len(memberIDs)),
		available: make(map[int64]int64, len(memberIDs)),
	}
	if len(memberIDs) == 0 {
		return book, nil
	}

	members, err := s.memberRepo.ListByIDs(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("加载会员失败: %w", err)
	}
	purchases, err := s.purchaseRepo.ListApprovedByMembers(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("加载购买槽位失败: %w", err)
	}
	used, err := s.rewardRepo.SumAllocationsByPurchase(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("加载槽位扣减失败: %w", err)
	}
	consumed, err := s.rewardRepo.SumCountedByMembers(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("加载已消耗额度失败: %w", err)
	}

	// 推荐人资格一次性查完
	recommenderOf := make(map[int64]*int64, len(members))
	var recommenderIDs []int64
	seenRec := make(map[int64]bool)
	for _, m := range members {
		recommenderOf[m.ID] = m.RecommenderID
		if m.RecommenderID != nil && !seenRec[*m.RecommenderID] {
			seenRec[*m.RecommenderID] = true
			recommenderIDs = append(recommenderIDs, *m.RecommenderID)
		}
	}
	qualified, err := s.purchaseRepo.QualifiedRecommenders(ctx, recommenderIDs)
	if err != nil {
		return nil, fmt.Errorf("加载推荐人资格失败: %w", err)
	}

	for _, m := range members {
		book.slots[m.ID] = &MemberSlots{MemberID: m.ID}
		book.available[m.ID] = 0
	}

	totalLimit := make(map[int64]int64, len(members))
	for _, p := range purchases {
		limit := slotLimit(p, recommenderOf[p.MemberID], qualified)
		remaining := limit - used[p.ID]
		if remaining < 0 {
			remaining = 0
		}
		slots := book.slots[p.MemberID]
		if slots == nil {
			continue
		}
		slots.Slots = append(slots.Slots, &Slot{
			PurchaseID:   p.ID,
			PurchaseType: p.Type,
			PV:           p.PV,
			Remaining:    remaining,
		})
		totalLimit[p.MemberID] += limit
	}

	for id := range book.slots {
		avail := totalLimit[id] - consumed[id]
		if avail < 0 {
			avail = 0
		}
		book.available[id] = avail
	}
	return book, nil
}

// AvailableLimit 单个会员的可用额度（对碰批次逐会员调用）
func (s *LimitService) AvailableLimit(ctx context.Context, memberID int64) (int64, error) {
	book, err := s.LoadSlotBook(ctx, []int64{memberID})
	if err != nil {
		return 0, err
	}
	return book.Available(memberID), nil
}

// slotLimit 单笔购买贡献的上限额度
func slotLimit(p *model.Purchase, recommenderID *int64, qualified map[int64]bool) int64 {
	switch p.Type {
	case model.PurchaseTypeBcode:
		return int64(math.Floor(float64(p.PV) * LimitRateBcode))
	default:
		rate := LimitRateUnqualified
		if recommenderID != nil && qualified[*recommenderID] {
			rate = LimitRateQualified
		}
		return int64(math.Floor(float64(p.PV) * rate))
	}
}
