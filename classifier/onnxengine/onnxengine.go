// Package onnxengine runs classifier artifacts with ONNX Runtime.
//
// Artifacts are expected to look like a scikit-learn/XGBoost pipeline exported with skl2onnx: a single float tensor input of shape [N, 17], an int64 label output, and a class probability output which is either a ZipMap (sequence of int64->float maps) or a dense [N, classes] float tensor.
//
// ONNX Runtime is loaded as a shared library, located with Config.SharedLibraryPath (or the onnxruntime_go default).
package onnxengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bluesky-social/botdetect/classifier"
	"github.com/bluesky-social/botdetect/features"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultInputName = "input"
)

var ErrInvalidModel = errors.New("invalid classifier model")

type Config struct {
	// path to the onnxruntime shared library. empty uses the onnxruntime_go default.
	SharedLibraryPath string
	// name of the feature tensor input. defaults to [DefaultInputName]
	InputName string
	// names of the label and probability outputs. empty means the first and second outputs of the model, in order.
	LabelOutput       string
	ProbabilityOutput string
	// zero leaves the runtime default
	IntraOpThreads int
}

// An ONNX Runtime inference session, implementing [classifier.Engine].
type Engine struct {
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputNames []string
}

var _ classifier.Engine = (*Engine)(nil)

// the onnxruntime environment is process-global; it is reference counted so several sessions can be open at once
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initializing onnxruntime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs > 0 {
		return nil
	}
	envRefs = 0
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Returns an opener suitable for [classifier.Config].
func Opener(config Config) classifier.EngineOpener {
	return func(path string) (classifier.Engine, error) {
		return Open(path, config)
	}
}

// Loads the model at path and prepares an inference session. The environment is released again if anything fails.
func Open(path string, config Config) (*Engine, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if err := acquireEnvironment(config.SharedLibraryPath); err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			releaseEnvironment()
		}
	}()

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	inputName, outputNames, err := resolveNames(config, inputs, outputs)
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	if config.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
			return nil, err
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputName}, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	success = true
	return &Engine{
		session:     session,
		inputName:   inputName,
		outputNames: outputNames,
	}, nil
}

func resolveNames(config Config, inputs, outputs []ort.InputOutputInfo) (string, []string, error) {
	if len(inputs) < 1 {
		return "", nil, fmt.Errorf("%w: model has no inputs", ErrInvalidModel)
	}
	if len(outputs) < 2 {
		return "", nil, fmt.Errorf("%w: model needs label and probability outputs, has %d outputs", ErrInvalidModel, len(outputs))
	}

	inputName := config.InputName
	if inputName == "" {
		inputName = DefaultInputName
	}
	if !hasName(inputs, inputName) {
		return "", nil, fmt.Errorf("%w: model has no input named %q", ErrInvalidModel, inputName)
	}

	labelName := config.LabelOutput
	if labelName == "" {
		labelName = outputs[0].Name
	}
	probName := config.ProbabilityOutput
	if probName == "" {
		probName = outputs[1].Name
	}
	for _, name := range []string{labelName, probName} {
		if !hasName(outputs, name) {
			return "", nil, fmt.Errorf("%w: model has no output named %q", ErrInvalidModel, name)
		}
	}
	return inputName, []string{labelName, probName}, nil
}

func hasName(infos []ort.InputOutputInfo, name string) bool {
	for _, info := range infos {
		if info.Name == name {
			return true
		}
	}
	return false
}

// Describes the inputs and outputs of the model at path, without creating a session.
func Inspect(path string, libPath string) ([]ort.InputOutputInfo, []ort.InputOutputInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}
	if err := acquireEnvironment(libPath); err != nil {
		return nil, nil, err
	}
	defer releaseEnvironment()
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	return inputs, outputs, nil
}

func (eng *Engine) Run(ctx context.Context, inputs []features.Vector) ([]classifier.EngineOutput, error) {
	if eng.session == nil {
		return nil, errors.New("onnx session closed")
	}
	n := len(inputs)
	if n == 0 {
		return []classifier.EngineOutput{}, nil
	}

	data := make([]float32, 0, n*features.NumFeatures)
	for _, v := range inputs {
		data = append(data, v[:]...)
	}
	in, err := ort.NewTensor(ort.NewShape(int64(n), features.NumFeatures), data)
	if err != nil {
		return nil, fmt.Errorf("building input tensor: %w", err)
	}
	defer in.Destroy()

	// nil outputs are allocated by onnxruntime
	outs := []ort.Value{nil, nil}
	if err := eng.session.Run([]ort.Value{in}, outs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	labels, err := readLabels(outs[0], n)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", eng.outputNames[0], err)
	}
	probs, err := readProbabilities(outs[1], n)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", eng.outputNames[1], err)
	}

	results := make([]classifier.EngineOutput, n)
	for i := range results {
		results[i] = classifier.EngineOutput{
			Label:         labels[i],
			Probabilities: probs[i],
		}
	}
	return results, nil
}

func readLabels(v ort.Value, n int) ([]int64, error) {
	var labels []int64
	switch t := v.(type) {
	case *ort.Tensor[int64]:
		labels = t.GetData()
	case *ort.Tensor[int32]:
		for _, l := range t.GetData() {
			labels = append(labels, int64(l))
		}
	default:
		return nil, fmt.Errorf("unsupported label output type %T", v)
	}
	if len(labels) != n {
		return nil, fmt.Errorf("expected %d labels, got %d", n, len(labels))
	}
	out := make([]int64, n)
	copy(out, labels)
	return out, nil
}

func readProbabilities(v ort.Value, n int) ([]map[int64]float32, error) {
	switch t := v.(type) {
	case *ort.Sequence:
		return readZipMap(t, n)
	case *ort.Tensor[float32]:
		return readDense(t, n)
	default:
		return nil, fmt.Errorf("unsupported probability output type %T", v)
	}
}

// ZipMap output: one int64->float map per input row
func readZipMap(seq *ort.Sequence, n int) ([]map[int64]float32, error) {
	values, err := seq.GetValues()
	if err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, fmt.Errorf("expected %d probability maps, got %d", n, len(values))
	}
	out := make([]map[int64]float32, n)
	for i, val := range values {
		m, ok := val.(*ort.Map)
		if !ok {
			return nil, fmt.Errorf("unsupported probability map type %T", val)
		}
		keys, vals, err := m.GetKeysAndValues()
		if err != nil {
			return nil, err
		}
		keyTensor, ok := keys.(*ort.Tensor[int64])
		if !ok {
			return nil, fmt.Errorf("unsupported probability key type %T", keys)
		}
		valTensor, ok := vals.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unsupported probability value type %T", vals)
		}
		ks, vs := keyTensor.GetData(), valTensor.GetData()
		if len(ks) != len(vs) {
			return nil, fmt.Errorf("probability map has %d keys and %d values", len(ks), len(vs))
		}
		row := make(map[int64]float32, len(ks))
		for j, k := range ks {
			row[k] = vs[j]
		}
		out[i] = row
	}
	return out, nil
}

// dense output: [n, classes] with the class label as column index
func readDense(t *ort.Tensor[float32], n int) ([]map[int64]float32, error) {
	shape := t.GetShape()
	if len(shape) != 2 || shape[0] != int64(n) {
		return nil, fmt.Errorf("unexpected probability tensor shape %v", shape)
	}
	classes := int(shape[1])
	data := t.GetData()
	out := make([]map[int64]float32, n)
	for i := range out {
		row := make(map[int64]float32, classes)
		for c := 0; c < classes; c++ {
			row[int64(c)] = data[i*classes+c]
		}
		out[i] = row
	}
	return out, nil
}

func (eng *Engine) Close() error {
	if eng.session == nil {
		return nil
	}
	err := eng.session.Destroy()
	eng.session = nil
	if rerr := releaseEnvironment(); err == nil {
		err = rerr
	}
	return err
}
