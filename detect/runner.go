package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/bluesky-social/botdetect/features"
	"github.com/bluesky-social/botdetect/profile"

	"golang.org/x/sync/errgroup"
)

// Runs batches of records through a [Processor].
type Runner struct {
	Processor *Processor
	// max records processed concurrently. values below 2 process records sequentially, in order.
	Workers int
	// extract every record first, then send all vectors to the classifier in a single call
	Batched bool
}

// Either a single result or a batch of results, mirroring the shape of the input.
type Output struct {
	Single  *Result
	Batch   []Result
	IsBatch bool
}

// The value to serialize: a bare result for single-record input, or a (possibly empty) list for array input.
func (o Output) Value() any {
	if o.IsBatch {
		if o.Batch == nil {
			return []Result{}
		}
		return o.Batch
	}
	return o.Single
}

// Processes JSON input holding either one record (an object) or several (an array).
//
// Returns an error wrapping [ErrInput] if the input isn't an object or array. Per-record failures are reported in results, not as an error; an error is only returned otherwise when a batched classifier call fails.
func (r *Runner) Run(ctx context.Context, input []byte) (Output, error) {
	trimmed := bytes.TrimSpace(input)
	if !json.Valid(trimmed) {
		return Output{}, fmt.Errorf("%w: not valid JSON", ErrInput)
	}
	switch trimmed[0] {
	case '{':
		res := r.RunSingle(ctx, trimmed)
		return Output{Single: &res}, nil
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return Output{}, fmt.Errorf("%w: %w", ErrInput, err)
		}
		results, err := r.RunBatch(ctx, records)
		if err != nil {
			return Output{}, err
		}
		return Output{Batch: results, IsBatch: true}, nil
	default:
		return Output{}, fmt.Errorf("%w: expected a JSON object or array of objects", ErrInput)
	}
}

// Processes a single record.
func (r *Runner) RunSingle(ctx context.Context, raw json.RawMessage) Result {
	batchSize.Observe(1)
	return r.Processor.ProcessRecord(ctx, raw)
}

// Processes records independently, returning results in input order, one per record.
func (r *Runner) RunBatch(ctx context.Context, records []json.RawMessage) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Runner.RunBatch")
	defer span.End()
	batchSize.Observe(float64(len(records)))

	if r.Batched {
		return r.runBatched(ctx, records)
	}

	results := make([]Result, len(records))
	logger := r.Processor.logger()
	if r.Workers < 2 {
		for i, raw := range records {
			logger.Debug("processing user", "index", i+1, "total", len(records))
			results[i] = r.Processor.ProcessRecord(ctx, raw)
		}
		return results, nil
	}

	var eg errgroup.Group
	eg.SetLimit(r.Workers)
	for i, raw := range records {
		eg.Go(func() error {
			logger.Debug("processing user", "index", i+1, "total", len(records))
			results[i] = r.Processor.ProcessRecord(ctx, raw)
			return nil
		})
	}
	// records never return errors; failures are in the results
	_ = eg.Wait()
	return results, nil
}

// decode and extract everything up front, then one classifier call for all the vectors. a failure of that shared call fails the whole batch.
func (r *Runner) runBatched(ctx context.Context, records []json.RawMessage) ([]Result, error) {
	p := r.Processor
	results := make([]Result, len(records))
	idents := make([]profile.Identity, 0, len(records))
	vecs := make([]features.Vector, 0, len(records))
	positions := make([]int, 0, len(records))

	for i, raw := range records {
		p.logger().Debug("extracting user", "index", i+1, "total", len(records))
		ident, vec, res, ok := p.prepare(raw)
		if !ok {
			results[i] = res
			continue
		}
		idents = append(idents, ident)
		vecs = append(vecs, vec)
		positions = append(positions, i)
	}

	preds, err := p.Predictor.PredictBatch(ctx, vecs)
	if err != nil {
		return nil, fmt.Errorf("batched inference over %d records: %w", len(vecs), err)
	}
	if len(preds) != len(vecs) {
		return nil, fmt.Errorf("batched inference returned %d predictions for %d records", len(preds), len(vecs))
	}
	for j, i := range positions {
		results[i] = p.succeed(idents[j], preds[j])
	}
	return results, nil
}
