package onnxengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	ort "github.com/yalue/onnxruntime_go"
)

func modelInfo() ([]ort.InputOutputInfo, []ort.InputOutputInfo) {
	inputs := []ort.InputOutputInfo{
		{Name: "input", Dimensions: ort.NewShape(-1, 17)},
	}
	outputs := []ort.InputOutputInfo{
		{Name: "label", Dimensions: ort.NewShape(-1)},
		{Name: "probabilities"},
	}
	return inputs, outputs
}

func TestResolveNames(t *testing.T) {
	assert := assert.New(t)
	inputs, outputs := modelInfo()

	in, outs, err := resolveNames(Config{}, inputs, outputs)
	assert.NoError(err)
	assert.Equal("input", in)
	assert.Equal([]string{"label", "probabilities"}, outs)

	// explicit names, in a different order than the model declares them
	in, outs, err = resolveNames(Config{LabelOutput: "probabilities", ProbabilityOutput: "label"}, inputs, outputs)
	assert.NoError(err)
	assert.Equal("input", in)
	assert.Equal([]string{"probabilities", "label"}, outs)
}

func TestResolveNamesInvalid(t *testing.T) {
	assert := assert.New(t)
	inputs, outputs := modelInfo()

	_, _, err := resolveNames(Config{InputName: "float_input"}, inputs, outputs)
	assert.ErrorIs(err, ErrInvalidModel)

	_, _, err = resolveNames(Config{LabelOutput: "output_label"}, inputs, outputs)
	assert.ErrorIs(err, ErrInvalidModel)

	_, _, err = resolveNames(Config{}, nil, outputs)
	assert.ErrorIs(err, ErrInvalidModel)

	_, _, err = resolveNames(Config{}, inputs, outputs[:1])
	assert.ErrorIs(err, ErrInvalidModel)
}

func TestOpenMissingModel(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "missing.onnx")
	_, err := Open(path, Config{})
	assert.ErrorIs(err, os.ErrNotExist)

	_, _, err = Inspect(path, "")
	assert.ErrorIs(err, os.ErrNotExist)
}
