package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/botdetect/features"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrModelLoad = errors.New("failed to load classifier model")
	ErrInference = errors.New("classifier inference failed")
	ErrClosed    = errors.New("classifier gateway is closed")
)

const (
	ClassHuman = 0
	ClassBot   = 1
)

// Class probabilities for one account.
type Probabilities struct {
	Human float32
	Bot   float32
}

type Prediction struct {
	// predicted class label; see [ClassHuman] and [ClassBot]
	Class         int64
	Probabilities Probabilities
}

func (p Prediction) IsBot() bool {
	return p.Class != ClassHuman
}

type Config struct {
	// required; opens the inference engine for the model path
	Opener EngineOpener
	// number of distinct feature vectors to memoize predictions for. zero disables the cache.
	CacheSize int
	Logger    *slog.Logger
}

// Owns a loaded classifier artifact and runs predictions against it.
//
// A Gateway is read-only after Load and safe for concurrent use; share it by pointer. Call Close to release the engine; Close waits for in-flight predictions, and later calls fail with [ErrClosed].
type Gateway struct {
	path string

	// guards engine; predictions hold the read lock for the whole engine call
	mu     sync.RWMutex
	engine Engine
	cache  *lru.Cache[features.Vector, Prediction]
	logger *slog.Logger
}

// Loads the classifier artifact at path. All errors wrap [ErrModelLoad] and should be treated as fatal.
func Load(path string, config Config) (*Gateway, error) {
	if config.Opener == nil {
		return nil, fmt.Errorf("%w: no inference engine configured", ErrModelLoad)
	}
	eng, err := config.Opener(path)
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %w", ErrModelLoad, path, err)
	}
	gw, err := NewGateway(eng, config)
	if err != nil {
		eng.Close()
		return nil, err
	}
	gw.path = path
	gw.logger.Info("classifier model loaded", "path", path)
	return gw, nil
}

// Wraps an already-opened engine. The gateway takes ownership of the engine.
func NewGateway(eng Engine, config Config) (*Gateway, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gw := &Gateway{
		engine: eng,
		logger: logger.With("component", "classifier"),
	}
	if config.CacheSize > 0 {
		c, err := lru.New[features.Vector, Prediction](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("%w: prediction cache: %w", ErrModelLoad, err)
		}
		gw.cache = c
	}
	return gw, nil
}

func (gw *Gateway) Path() string {
	return gw.path
}

// Predicts a single feature vector. Errors wrap [ErrInference]; there are no retries.
func (gw *Gateway) Predict(ctx context.Context, vec features.Vector) (Prediction, error) {
	preds, err := gw.PredictBatch(ctx, []features.Vector{vec})
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// Predicts several feature vectors in a single engine call, returning one prediction per input in the same order.
func (gw *Gateway) PredictBatch(ctx context.Context, vecs []features.Vector) ([]Prediction, error) {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	if gw.engine == nil {
		return nil, ErrClosed
	}
	if len(vecs) == 0 {
		return []Prediction{}, nil
	}

	preds := make([]Prediction, len(vecs))
	pending := make([]features.Vector, 0, len(vecs))
	pendingIdx := make([]int, 0, len(vecs))
	for i, v := range vecs {
		if gw.cache != nil {
			if p, ok := gw.cache.Get(v); ok {
				predictionCacheHits.Inc()
				preds[i] = p
				continue
			}
		}
		pending = append(pending, v)
		pendingIdx = append(pendingIdx, i)
	}
	if len(pending) == 0 {
		return preds, nil
	}

	outs, err := gw.run(ctx, pending)
	if err != nil {
		return nil, err
	}
	for j, out := range outs {
		p := newPrediction(out)
		preds[pendingIdx[j]] = p
		if gw.cache != nil {
			gw.cache.Add(pending[j], p)
		}
	}
	return preds, nil
}

func (gw *Gateway) run(ctx context.Context, vecs []features.Vector) ([]EngineOutput, error) {
	ctx, span := tracer.Start(ctx, "Gateway.run")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(vecs)))

	start := time.Now()
	outs, err := gw.engine.Run(ctx, vecs)
	inferenceDuration.Observe(time.Since(start).Seconds())
	inferenceBatchSize.Observe(float64(len(vecs)))
	if err == nil && len(outs) != len(vecs) {
		err = fmt.Errorf("engine returned %d outputs for %d inputs", len(outs), len(vecs))
	}
	if err != nil {
		inferenceCount.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		gw.logger.Debug("inference failed", "batch_size", len(vecs), "err", err)
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	inferenceCount.WithLabelValues("ok").Inc()
	return outs, nil
}

// missing class entries default to zero probability
func newPrediction(out EngineOutput) Prediction {
	return Prediction{
		Class: out.Label,
		Probabilities: Probabilities{
			Human: out.Probabilities[ClassHuman],
			Bot:   out.Probabilities[ClassBot],
		},
	}
}

// Releases the inference engine. Safe to call more than once.
func (gw *Gateway) Close() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.engine == nil {
		return nil
	}
	err := gw.engine.Close()
	gw.engine = nil
	if gw.cache != nil {
		gw.cache.Purge()
	}
	return err
}
