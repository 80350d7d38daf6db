package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("classifier")

var inferenceCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "botdetect_classifier_inferences",
	Help: "Number of inference engine calls, by status",
}, []string{"status"})

var inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "botdetect_classifier_inference_duration_sec",
	Help:    "Duration of inference engine calls",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 2, 20),
})

var inferenceBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "botdetect_classifier_inference_batch_size",
	Help:    "Number of feature vectors sent per inference engine call",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
})

var predictionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "botdetect_classifier_cache_hits",
	Help: "Number of predictions served from the in-process cache",
})
