package classifier

import (
	"context"

	"github.com/bluesky-social/botdetect/features"
)

// Raw classifier output for a single input vector.
type EngineOutput struct {
	// predicted class label: 0 (human) or 1 (bot)
	Label int64
	// probability distribution keyed by class label. classes may be missing.
	Probabilities map[int64]float32
}

// An external inference runtime executing a loaded classifier artifact.
//
// Implementations must be safe for concurrent calls to Run, and must return exactly one output per input, in order.
type Engine interface {
	Run(ctx context.Context, inputs []features.Vector) ([]EngineOutput, error)
	Close() error
}

// Opens an inference engine for the artifact at the given path.
type EngineOpener func(path string) (Engine, error)
