package detect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("detect")

var recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "botdetect_records_processed",
	Help: "Number of account records processed, by outcome",
}, []string{"outcome"})

var recordProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "botdetect_record_duration_sec",
	Help:    "Duration of single account record processing",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 2, 20),
})

var batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "botdetect_batch_size",
	Help:    "Number of records per batch",
	Buckets: prometheus.ExponentialBuckets(1, 2, 16),
})
