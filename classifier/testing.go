package classifier

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bluesky-social/botdetect/features"
)

var ErrTestEngineFailure = errors.New("test engine failure")

// In-memory Engine for tests and local development.
//
// The default scoring is a fixed, deterministic function of the feature vector: accounts posting many times per follower, with few followers and digits in the handle, score as bots.
type TestEngine struct {
	// overrides the default bot probability function
	Score func(v features.Vector) float32
	// if set, Run fails when any input matches
	FailOn func(v features.Vector) bool
	// if set, the human probability entry is left out of outputs
	OmitHuman bool

	calls  atomic.Int64
	closed atomic.Bool
}

func NewTestEngine() *TestEngine {
	return &TestEngine{}
}

// Gateway over a fresh TestEngine, for downstream tests.
func NewTestGateway() (*Gateway, *TestEngine) {
	eng := NewTestEngine()
	gw, err := NewGateway(eng, Config{})
	if err != nil {
		panic(err)
	}
	return gw, eng
}

func DefaultTestScore(v features.Vector) float32 {
	score := float32(0.1)
	if v[features.StatusesFollowersRatio] > 10 {
		score += 0.4
	}
	if v[features.FollowersCount] < 10 {
		score += 0.2
	}
	if v[features.DigitsInScreenName] >= 3 {
		score += 0.2
	}
	return score
}

func (eng *TestEngine) Run(ctx context.Context, inputs []features.Vector) ([]EngineOutput, error) {
	if eng.closed.Load() {
		return nil, errors.New("test engine closed")
	}
	eng.calls.Add(1)
	score := eng.Score
	if score == nil {
		score = DefaultTestScore
	}
	outs := make([]EngineOutput, len(inputs))
	for i, v := range inputs {
		if eng.FailOn != nil && eng.FailOn(v) {
			return nil, ErrTestEngineFailure
		}
		bot := score(v)
		label := int64(ClassHuman)
		if bot >= 0.5 {
			label = ClassBot
		}
		probs := map[int64]float32{ClassBot: bot}
		if !eng.OmitHuman {
			probs[ClassHuman] = 1 - bot
		}
		outs[i] = EngineOutput{Label: label, Probabilities: probs}
	}
	return outs, nil
}

// number of Run calls so far
func (eng *TestEngine) Calls() int64 {
	return eng.calls.Load()
}

func (eng *TestEngine) Closed() bool {
	return eng.closed.Load()
}

func (eng *TestEngine) Close() error {
	eng.closed.Store(true)
	return nil
}
