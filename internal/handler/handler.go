package handler

import (
	"strconv"

	"rewardengine/internal/config"
	"rewardengine/internal/job"
	"rewardengine/internal/repository"
	"rewardengine/internal/service"
	"rewardengine/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg        *config.Config
	runner     *job.Runner
	rewardRepo *repository.RewardRepository
	limits     *service.LimitService
	lineage    *service.LineageService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, cfg *config.Config) *Handler {
	return &Handler{
		cfg:        cfg,
		runner:     job.NewRunner(db, cfg),
		rewardRepo: repository.NewRewardRepository(db),
		limits:     service.NewLimitService(db),
		lineage:    service.NewLineageService(db),
	}
}

// ============================================================
// 批次触发接口
// ============================================================

// RunJobRequest 手工触发批次请求
type RunJobRequest struct {
	Job  string `json:"job" binding:"required"` // all|daily|referral|sponsor
	Date string `json:"date"`                   // 结算日 YYYY-MM-DD，空串用任务默认
}

// RunJob 手工触发批次（补跑历史日期的运维入口）
// POST /api/v1/jobs/run
//
// 【关键点】批次自身幂等（唯一索引 + 预读去重），重复触发不会重复发放，
// 但这里不抢运行锁——和调度器同时跑同一 (任务, 日期) 仍要靠运维自己避开。
func (h *Handler) RunJob(c *gin.Context) {
	var req RunJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if req.Date != "" {
		if _, err := job.ParseRewardDate(req.Date, job.LocationOf(h.cfg)); err != nil {
			response.BusinessError(c, response.CodeDateInvalid, "date 格式错误，应为 YYYY-MM-DD")
			return
		}
	}

	if err := h.runner.RunJob(c.Request.Context(), req.Job, req.Date); err != nil {
		response.BusinessError(c, response.CodeJobRunFailed, err.Error())
		return
	}

	response.Success(c, gin.H{
		"job":  req.Job,
		"date": req.Date,
	})
}

// RunCenterRelease 手工触发中心手续费周释放
// POST /api/v1/jobs/center-release
func (h *Handler) RunCenterRelease(c *gin.Context) {
	if err := h.runner.RunCenterRelease(c.Request.Context()); err != nil {
		response.BusinessError(c, response.CodeJobRunFailed, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "释放批次已执行"})
}

// ============================================================
// 奖金查询接口
// ============================================================

// GetRewardLog 查询会员某结算日的奖金流水
// GET /api/v1/rewards/log?member_id=xxx&date=YYYY-MM-DD
func (h *Handler) GetRewardLog(c *gin.Context) {
	memberID, err := strconv.ParseInt(c.Query("member_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "member_id 参数错误")
		return
	}
	date := c.Query("date")
	if _, err := job.ParseRewardDate(date, job.LocationOf(h.cfg)); err != nil {
		response.BusinessError(c, response.CodeDateInvalid, "date 格式错误，应为 YYYY-MM-DD")
		return
	}

	entries, err := h.rewardRepo.ListByMemberAndDate(c.Request.Context(), memberID, date)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"member_id": memberID,
		"date":      date,
		"list":      entries,
	})
}

// GetRewardSummary 查询会员某结算日的分类汇总
// GET /api/v1/rewards/summary?member_id=xxx&date=YYYY-MM-DD
func (h *Handler) GetRewardSummary(c *gin.Context) {
	memberID, err := strconv.ParseInt(c.Query("member_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "member_id 参数错误")
		return
	}
	date := c.Query("date")
	if _, err := job.ParseRewardDate(date, job.LocationOf(h.cfg)); err != nil {
		response.BusinessError(c, response.CodeDateInvalid, "date 格式错误，应为 YYYY-MM-DD")
		return
	}

	summaries, err := h.rewardRepo.ListSummary(c.Request.Context(), memberID, date)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"member_id": memberID,
		"date":      date,
		"list":      summaries,
	})
}

// GetAvailableLimit 查询会员当前剩余奖励上限
// GET /api/v1/rewards/limit?member_id=xxx
func (h *Handler) GetAvailableLimit(c *gin.Context) {
	memberID, err := strconv.ParseInt(c.Query("member_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "member_id 参数错误")
		return
	}

	available, err := h.limits.AvailableLimit(c.Request.Context(), memberID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"member_id": memberID,
		"available": available,
	})
}

// ============================================================
// 管理接口
// ============================================================

// RepairLineage 全量重建推荐缓存与后援路径
// POST /api/v1/admin/lineage/repair
//
// 手工调整过推荐关系或安置关系后执行一次，把 rec_1..rec_15 缓存列
// 和 sponsor_path 物化路径刷成和关系字段一致。
func (h *Handler) RepairLineage(c *gin.Context) {
	repaired, err := h.lineage.RepairAllLineage(c.Request.Context())
	if err != nil {
		response.BusinessError(c, response.CodeLineageRepairErr, err.Error())
		return
	}
	response.Success(c, gin.H{"repaired": repaired})
}
