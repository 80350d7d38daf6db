package classifier

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluesky-social/botdetect/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func botLike() features.Vector {
	var v features.Vector
	v[features.StatusesFollowersRatio] = 50
	v[features.FollowersCount] = 1
	v[features.DigitsInScreenName] = 4
	return v
}

func humanLike() features.Vector {
	var v features.Vector
	v[features.StatusesFollowersRatio] = 0.5
	v[features.FollowersCount] = 800
	return v
}

func TestGatewayPredict(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	gw, _ := NewTestGateway()
	defer gw.Close()

	p, err := gw.Predict(ctx, botLike())
	require.NoError(err)
	assert.True(p.IsBot())
	assert.Equal(int64(ClassBot), p.Class)
	assert.InDelta(0.9, p.Probabilities.Bot, 1e-6)
	assert.InDelta(1.0, p.Probabilities.Bot+p.Probabilities.Human, 1e-6)

	p, err = gw.Predict(ctx, humanLike())
	require.NoError(err)
	assert.False(p.IsBot())
	assert.Equal(int64(ClassHuman), p.Class)
	assert.InDelta(0.9, p.Probabilities.Human, 1e-6)
	assert.InDelta(1.0, p.Probabilities.Bot+p.Probabilities.Human, 1e-6)
}

func TestGatewayDeterministic(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	gw, eng := NewTestGateway()
	defer gw.Close()

	first, err := gw.Predict(ctx, botLike())
	assert.NoError(err)
	second, err := gw.Predict(ctx, botLike())
	assert.NoError(err)
	assert.Equal(first, second)
	// no cache configured, so both hit the engine
	assert.Equal(int64(2), eng.Calls())
}

func TestGatewayPredictBatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	gw, eng := NewTestGateway()
	defer gw.Close()

	preds, err := gw.PredictBatch(ctx, []features.Vector{humanLike(), botLike(), humanLike()})
	require.NoError(err)
	require.Len(preds, 3)
	assert.False(preds[0].IsBot())
	assert.True(preds[1].IsBot())
	assert.False(preds[2].IsBot())
	assert.Equal(int64(1), eng.Calls())

	single, err := gw.Predict(ctx, botLike())
	require.NoError(err)
	assert.Equal(preds[1], single)

	empty, err := gw.PredictBatch(ctx, nil)
	assert.NoError(err)
	assert.Empty(empty)
	assert.Equal(int64(2), eng.Calls())
}

func TestGatewayMissingProbability(t *testing.T) {
	assert := assert.New(t)

	eng := NewTestEngine()
	eng.OmitHuman = true
	gw, err := NewGateway(eng, Config{})
	assert.NoError(err)

	p, err := gw.Predict(context.Background(), botLike())
	assert.NoError(err)
	assert.Equal(float32(0), p.Probabilities.Human)
	assert.InDelta(0.9, p.Probabilities.Bot, 1e-6)
}

func TestGatewayInferenceError(t *testing.T) {
	assert := assert.New(t)

	eng := NewTestEngine()
	eng.FailOn = func(v features.Vector) bool { return v[features.FollowersCount] == 1 }
	gw, err := NewGateway(eng, Config{})
	assert.NoError(err)

	_, err = gw.Predict(context.Background(), botLike())
	assert.ErrorIs(err, ErrInference)
	assert.ErrorIs(err, ErrTestEngineFailure)

	_, err = gw.PredictBatch(context.Background(), []features.Vector{humanLike(), botLike()})
	assert.ErrorIs(err, ErrInference)

	_, err = gw.Predict(context.Background(), humanLike())
	assert.NoError(err)
}

type shortEngine struct{ TestEngine }

func (eng *shortEngine) Run(ctx context.Context, inputs []features.Vector) ([]EngineOutput, error) {
	outs, err := eng.TestEngine.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return outs[:len(outs)-1], nil
}

func TestGatewayOutputCountMismatch(t *testing.T) {
	gw, err := NewGateway(&shortEngine{}, Config{})
	assert.NoError(t, err)

	_, err = gw.PredictBatch(context.Background(), []features.Vector{humanLike(), botLike()})
	assert.ErrorIs(t, err, ErrInference)
}

func TestGatewayCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng := NewTestEngine()
	gw, err := NewGateway(eng, Config{CacheSize: 16})
	assert.NoError(err)

	first, err := gw.Predict(ctx, botLike())
	assert.NoError(err)
	second, err := gw.Predict(ctx, botLike())
	assert.NoError(err)
	assert.Equal(first, second)
	assert.Equal(int64(1), eng.Calls())

	// only the uncached vector goes to the engine
	preds, err := gw.PredictBatch(ctx, []features.Vector{botLike(), humanLike()})
	assert.NoError(err)
	assert.Equal(first, preds[0])
	assert.False(preds[1].IsBot())
	assert.Equal(int64(2), eng.Calls())
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	eng := NewTestEngine()
	gw, err := Load("models/test.onnx", Config{
		Opener: func(path string) (Engine, error) { return eng, nil },
	})
	assert.NoError(err)
	assert.Equal("models/test.onnx", gw.Path())

	assert.NoError(gw.Close())
	assert.True(eng.Closed())
	assert.NoError(gw.Close())

	_, err = gw.Predict(context.Background(), botLike())
	assert.ErrorIs(err, ErrClosed)
}

func TestLoadErrors(t *testing.T) {
	assert := assert.New(t)

	missing := errors.New("no such file")
	_, err := Load("missing.onnx", Config{
		Opener: func(path string) (Engine, error) { return nil, missing },
	})
	assert.ErrorIs(err, ErrModelLoad)
	assert.ErrorIs(err, missing)

	_, err = Load("missing.onnx", Config{})
	assert.ErrorIs(err, ErrModelLoad)
}

func TestSessionsCoexist(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	strict := NewTestEngine()
	strict.Score = func(v features.Vector) float32 { return 0.95 }
	lenient := NewTestEngine()
	lenient.Score = func(v features.Vector) float32 { return 0.05 }

	a, err := NewGateway(strict, Config{})
	assert.NoError(err)
	b, err := NewGateway(lenient, Config{})
	assert.NoError(err)

	pa, err := a.Predict(ctx, humanLike())
	assert.NoError(err)
	pb, err := b.Predict(ctx, humanLike())
	assert.NoError(err)
	assert.True(pa.IsBot())
	assert.False(pb.IsBot())
}

// engine which blocks in Run until released
type blockingEngine struct {
	TestEngine
	started chan struct{}
	release chan struct{}
}

func (eng *blockingEngine) Run(ctx context.Context, inputs []features.Vector) ([]EngineOutput, error) {
	close(eng.started)
	<-eng.release
	return eng.TestEngine.Run(ctx, inputs)
}

func TestCloseWaitsForPredict(t *testing.T) {
	assert := assert.New(t)

	eng := &blockingEngine{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	gw, err := NewGateway(eng, Config{})
	assert.NoError(err)

	predErr := make(chan error, 1)
	go func() {
		_, err := gw.Predict(context.Background(), botLike())
		predErr <- err
	}()
	<-eng.started

	var closed atomic.Bool
	go func() {
		gw.Close()
		closed.Store(true)
	}()
	assert.Never(closed.Load, 50*time.Millisecond, 5*time.Millisecond)

	close(eng.release)
	assert.NoError(<-predErr)
	assert.Eventually(closed.Load, time.Second, 5*time.Millisecond)
	assert.True(eng.Closed())

	_, err = gw.Predict(context.Background(), botLike())
	assert.ErrorIs(err, ErrClosed)
}

func TestConcurrentPredictAndClose(t *testing.T) {
	gw, _ := NewTestGateway()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := gw.Predict(context.Background(), humanLike())
				if err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
			}
		}()
	}
	assert.NoError(t, gw.Close())
	wg.Wait()
}

func TestLoadLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	gw, err := Load("models/test.onnx", Config{
		Opener: func(path string) (Engine, error) { return NewTestEngine(), nil },
		Logger: logger,
	})
	require.NoError(t, err)
	defer gw.Close()

	assert.Equal(t, 1, strings.Count(buf.String(), "classifier model loaded"))
	assert.Contains(t, buf.String(), "path=models/test.onnx")
}
