// metrics.go — Prometheus метрики хранилища контента и сканирования.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeOpsTotal — операции хранилища контента.
	storeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_content_operations_total",
		Help: "Количество операций хранилища контента",
	}, []string{"operation", "result"})

	// storedBytesTotal — объём сохранённого контента.
	storedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "at_content_stored_bytes_total",
		Help: "Объём сохранённого контента в байтах",
	})

	// contentItems — текущее количество контента по статусу.
	contentItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "at_content_items",
		Help: "Текущее количество действующего контента по статусу сканирования",
	}, []string{"status"})

	// scansTotal — завершённые сканирования по результату.
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "at_scans_total",
		Help: "Количество сканирований контента",
	}, []string{"result"})

	// scanDuration — длительность сканирования.
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "at_scan_duration_seconds",
		Help:    "Длительность сканирования контента в секундах",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// scanQueueDropped — постановки в очередь, отброшенные из-за переполнения.
	scanQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "at_scan_queue_dropped_total",
		Help: "Количество постановок в очередь сканирования, отброшенных при переполнении",
	})
)
