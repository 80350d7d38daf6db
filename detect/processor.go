package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/botdetect/classifier"
	"github.com/bluesky-social/botdetect/features"
	"github.com/bluesky-social/botdetect/profile"
)

var (
	// a single record could not be processed; the error is recorded on that record's result
	ErrRecord = errors.New("record processing failed")
	// the top-level input could not be read or parsed
	ErrInput = errors.New("invalid input")
)

// Classifier predictions, as provided by [classifier.Gateway].
type Predictor interface {
	Predict(ctx context.Context, vec features.Vector) (classifier.Prediction, error)
	PredictBatch(ctx context.Context, vecs []features.Vector) ([]classifier.Prediction, error)
}

var _ Predictor = (*classifier.Gateway)(nil)

// Runs feature extraction and prediction for individual records, converting every failure into an error result.
type Processor struct {
	Predictor Predictor
	// nil uses a wall-clock extractor
	Extractor *features.Extractor
	Logger    *slog.Logger
}

func NewProcessor(pred Predictor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Predictor: pred,
		Extractor: &features.Extractor{},
		Logger:    logger,
	}
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Processor) extract(rec *profile.Record) features.Vector {
	if p.Extractor == nil {
		return features.Extract(rec)
	}
	return p.Extractor.Extract(rec)
}

// Decodes and processes one raw JSON record. Never returns an error or panics: failures become a Result with the Error field set.
func (p *Processor) ProcessRecord(ctx context.Context, raw json.RawMessage) (res Result) {
	ident := profile.IdentityFromJSON(raw)
	defer p.recoverRecord(ident, &res)

	rec, err := profile.Decode(raw)
	if err != nil {
		return p.fail(ident, err)
	}
	return p.Process(ctx, rec)
}

// similar to the automod engine, recover panics so one record can't take down a batch. must be deferred directly.
func (p *Processor) recoverRecord(ident profile.Identity, res *Result) {
	if r := recover(); r != nil {
		p.logger().Error("record processing exception", "err", r, "user_id", string(ident.UserID))
		*res = p.fail(ident, fmt.Errorf("%w: internal error: %v", ErrRecord, r))
	}
}

// Decodes and extracts one raw record without predicting. On failure ok is false and res holds the error result.
func (p *Processor) prepare(raw json.RawMessage) (ident profile.Identity, vec features.Vector, res Result, ok bool) {
	ident = profile.IdentityFromJSON(raw)
	defer p.recoverRecord(ident, &res)

	rec, err := profile.Decode(raw)
	if err != nil {
		return ident, vec, p.fail(ident, err), false
	}
	vec, err = p.vector(rec)
	if err != nil {
		return rec.Identity, vec, p.fail(rec.Identity, err), false
	}
	return rec.Identity, vec, Result{}, true
}

// Processes an already-decoded record.
func (p *Processor) Process(ctx context.Context, rec *profile.Record) Result {
	ctx, span := tracer.Start(ctx, "Processor.Process")
	defer span.End()

	start := time.Now()
	defer func() {
		recordProcessDuration.Observe(time.Since(start).Seconds())
	}()

	vec, err := p.vector(rec)
	if err != nil {
		return p.fail(rec.Identity, err)
	}
	pred, err := p.Predictor.Predict(ctx, vec)
	if err != nil {
		return p.fail(rec.Identity, err)
	}
	return p.succeed(rec.Identity, pred)
}

func (p *Processor) vector(rec *profile.Record) (features.Vector, error) {
	vec := p.extract(rec)
	if !vec.Finite() {
		return vec, fmt.Errorf("%w: feature vector has non-finite values", ErrRecord)
	}
	return vec, nil
}

func (p *Processor) succeed(ident profile.Identity, pred classifier.Prediction) Result {
	res := newSuccess(ident, pred)
	recordsProcessed.WithLabelValues("ok").Inc()
	p.logger().Debug("account classified", "user_id", string(res.UserID), "is_bot", res.IsBot, "bot_probability", res.BotProbability)
	return res
}

func (p *Processor) fail(ident profile.Identity, err error) Result {
	res := newFailure(ident, err)
	recordsProcessed.WithLabelValues("error").Inc()
	p.logger().Warn("error processing user", "user_id", string(res.UserID), "err", err)
	return res
}
