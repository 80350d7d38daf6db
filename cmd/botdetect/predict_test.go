package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bluesky-social/botdetect/classifier"
	"github.com/bluesky-social/botdetect/detect"
	"github.com/bluesky-social/botdetect/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCLIRunner(t *testing.T) *detect.Runner {
	gw, _ := classifier.NewTestGateway()
	t.Cleanup(func() { gw.Close() })
	return &detect.Runner{Processor: detect.NewProcessor(gw, nil)}
}

func TestDetectInputShapes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	runner := testCLIRunner(t)

	// inline input is a single record, even when it isn't an object
	val, err := detectInput(ctx, runner, &cliInput{inline: true, data: []byte(botRecord)})
	require.NoError(t, err)
	res, ok := val.(*detect.Result)
	require.True(t, ok)
	assert.True(res.IsBot)

	val, err = detectInput(ctx, runner, &cliInput{inline: true, data: []byte(`[1, 2]`)})
	require.NoError(t, err)
	res, ok = val.(*detect.Result)
	require.True(t, ok)
	assert.True(res.Failed())
	assert.ErrorIs(res.Err(), profile.ErrInvalidRecord)

	val, err = detectInput(ctx, runner, &cliInput{data: []byte("[" + botRecord + "]")})
	require.NoError(t, err)
	results, ok := val.([]detect.Result)
	require.True(t, ok)
	assert.Len(results, 1)

	_, err = detectInput(ctx, runner, &cliInput{data: []byte("nope")})
	assert.ErrorIs(err, detect.ErrInput)
}

func TestWriteResults(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	runner := testCLIRunner(t)

	val, err := detectInput(ctx, runner, &cliInput{data: []byte(`{"usrID": 7, "usr": "<b>&co</b>"}`)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, val))
	out := buf.String()
	assert.Contains(out, `"username": "<b>&co</b>"`)
	assert.Contains(out, `"user_id": 7`)
	// keys in output order
	assert.Less(bytes.Index(buf.Bytes(), []byte(`"is_bot"`)), bytes.Index(buf.Bytes(), []byte(`"bot_probability"`)))
	assert.Less(bytes.Index(buf.Bytes(), []byte(`"prediction_class"`)), bytes.Index(buf.Bytes(), []byte(`"user_id"`)))

	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, writeResults(path, val, nil))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(out, string(written))
}

func TestFeaturesForInput(t *testing.T) {
	assert := assert.New(t)

	val, err := featuresForInput(&cliInput{data: []byte("  " + botRecord)})
	require.NoError(t, err)
	single, ok := val.(*featureOutput)
	require.True(t, ok)
	assert.Empty(single.Error)
	require.Len(t, single.Features, 17)
	assert.Equal("account_age_days", single.Features[0].Name)

	val, err = featuresForInput(&cliInput{data: []byte(`[{"usrFollowersCount": -1}, ` + humanRecord + `]`)})
	require.NoError(t, err)
	batch, ok := val.([]featureOutput)
	require.True(t, ok)
	require.Len(t, batch, 2)
	assert.NotEmpty(batch[0].Error)
	assert.Nil(batch[0].Features)
	assert.Equal(`"unknown"`, string(batch[0].UserID))
	assert.Empty(batch[1].Error)
	assert.Len(batch[1].Features, 17)

	_, err = featuresForInput(&cliInput{data: []byte(`{broken`)})
	assert.ErrorIs(err, detect.ErrInput)
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("file not found")
	err := fmt.Errorf("%w (%s): %w", classifier.ErrModelLoad, "model.onnx", cause)
	err = fmt.Errorf("starting: %w", err)

	chain := errorChain(err)
	require.Len(t, chain, 3)
	assert.Equal(t, err.Error(), chain[0])
	assert.Equal(t, "file not found", chain[2])

	assert.Nil(t, errorChain(nil))
}

func TestPredictCommandErrors(t *testing.T) {
	dir := t.TempDir()
	usersPath := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(usersPath, []byte("["+botRecord+"]"), 0644))
	missingModel := filepath.Join(dir, "missing.onnx")

	fixtures := []struct {
		desc string
		args []string
		want error
	}{
		{"no input", []string{"predict", "-m", missingModel}, detect.ErrInput},
		{"both inputs", []string{"predict", "-f", usersPath, "-u", botRecord, "-m", missingModel}, detect.ErrInput},
		{"missing input file", []string{"predict", "-f", filepath.Join(dir, "nope.json"), "-m", missingModel}, detect.ErrInput},
		{"invalid inline json", []string{"predict", "-u", "{not json", "-m", missingModel}, detect.ErrInput},
		{"default action", []string{"-u", "{not json", "-m", missingModel}, detect.ErrInput},
		{"unloadable model", []string{"predict", "-f", usersPath, "-m", missingModel}, classifier.ErrModelLoad},
		{"features without input", []string{"features"}, detect.ErrInput},
	}
	for _, f := range fixtures {
		err := run(append([]string{"botdetect", "--log-level", "error"}, f.args...))
		assert.ErrorIs(t, err, f.want, f.desc)
	}
}

func TestFeaturesCommand(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "features.json")

	err := run([]string{"botdetect", "--log-level", "error", "features", "-u", botRecord, "-o", out})
	require.NoError(t, err)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(string(written), `"user_id": 1001`)
	assert.Contains(string(written), `"account_age_days"`)
}
