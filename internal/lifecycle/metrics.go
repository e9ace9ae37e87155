package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// actionsTotal — выполненные действия над вложениями.
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_lifecycle_actions_total",
		Help: "Количество действий над контентом вложений.",
	}, []string{"action", "operation"})

	// storeCallsTotal — обращения к хранилищу контента.
	storeCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_store_calls_total",
		Help: "Количество обращений к хранилищу контента.",
	}, []string{"method", "result"})

	// compensationsTotal — компенсирующие действия после завершения единицы работы.
	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_rollbacks_total",
		Help: "Количество компенсирующих действий при откате и подтверждений при фиксации.",
	}, []string{"action", "result"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
