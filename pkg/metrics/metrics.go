package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 批次运行指标，按任务名打标签
var (
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward",
		Name:      "job_runs_total",
		Help:      "批次运行次数",
	}, []string{"job", "result"})

	RewardPaidAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward",
		Name:      "paid_amount_total",
		Help:      "实际发放的奖金点数合计",
	}, []string{"job", "type"})

	RewardEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reward",
		Name:      "entries_total",
		Help:      "写入的流水条数（paid/zero/duplicate）",
	}, []string{"job", "outcome"})
)

const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultSkip  = "skip"
	OutcomePaid = "paid"
	OutcomeZero = "zero"
	OutcomeDup  = "duplicate"
)
