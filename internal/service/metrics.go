package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标：发放/铸造/结算的运行观测，/metrics 暴露
var (
	awardAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_award_attempts_total",
		Help: "发放请求数，按来源与结果种类",
	}, []string{"source", "reason"})

	piecesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_pieces_dropped_total",
		Help: "已发放碎片数，按来源与道具类型",
	}, []string{"source", "item_type"})

	mintsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_mints_completed_total",
		Help: "完成铸造数，按档位",
	}, []string{"tier"})

	rolloversCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blueprint_season_rollovers_total",
		Help: "完成的赛季结算次数",
	})
)
