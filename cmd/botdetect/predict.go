package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bluesky-social/botdetect/classifier"
	"github.com/bluesky-social/botdetect/classifier/onnxengine"
	"github.com/bluesky-social/botdetect/detect"
	"github.com/bluesky-social/botdetect/features"
	"github.com/bluesky-social/botdetect/profile"

	"github.com/urfave/cli/v2"
)

// raw input, as given on the command line
type cliInput struct {
	// set when the record was given inline with --single-user
	inline bool
	data   []byte
}

func readInput(cctx *cli.Context) (*cliInput, error) {
	path := cctx.String("features")
	inline := cctx.String("single-user")
	switch {
	case path == "" && inline == "":
		return nil, fmt.Errorf("%w: either --features or --single-user must be provided", detect.ErrInput)
	case path != "" && inline != "":
		return nil, fmt.Errorf("%w: --features and --single-user are mutually exclusive", detect.ErrInput)
	case inline != "":
		if !json.Valid([]byte(inline)) {
			return nil, fmt.Errorf("%w: --single-user is not valid JSON", detect.ErrInput)
		}
		return &cliInput{inline: true, data: []byte(inline)}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load user data: %w", detect.ErrInput, err)
	}
	return &cliInput{data: data}, nil
}

func loadGateway(cctx *cli.Context, logger *slog.Logger) (*classifier.Gateway, error) {
	return classifier.Load(cctx.String("model-path"), classifier.Config{
		Opener: onnxengine.Opener(onnxengine.Config{
			SharedLibraryPath: cctx.String("onnxruntime-lib"),
			InputName:         cctx.String("model-input"),
			LabelOutput:       cctx.String("model-label-output"),
			ProbabilityOutput: cctx.String("model-probability-output"),
			IntraOpThreads:    cctx.Int("onnx-threads"),
		}),
		CacheSize: cctx.Int("prediction-cache-size"),
		Logger:    logger,
	})
}

func newRunner(cctx *cli.Context, pred detect.Predictor, logger *slog.Logger) *detect.Runner {
	return &detect.Runner{
		Processor: detect.NewProcessor(pred, logger),
		Workers:   cctx.Int("workers"),
		Batched:   cctx.Bool("batch-inference"),
	}
}

func runPredict(cctx *cli.Context) error {
	ctx := cctx.Context
	logger := configLogger(cctx, os.Stderr)
	shutdown := configOTEL(ctx, "botdetect")
	defer shutdown()

	err := predict(ctx, cctx, logger)
	if err != nil && cctx.Bool("verbose") {
		logger.Debug("error detail", "chain", errorChain(err))
	}
	return err
}

func predict(ctx context.Context, cctx *cli.Context, logger *slog.Logger) error {
	in, err := readInput(cctx)
	if err != nil {
		return err
	}

	gw, err := loadGateway(cctx, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	runner := newRunner(cctx, gw, logger)
	result, err := detectInput(ctx, runner, in)
	if err != nil {
		return err
	}
	return writeResults(cctx.String("output"), result, logger)
}

// inline input is always a single record; file input may hold one record or an array
func detectInput(ctx context.Context, runner *detect.Runner, in *cliInput) (any, error) {
	if in.inline {
		res := runner.RunSingle(ctx, in.data)
		return &res, nil
	}
	out, err := runner.Run(ctx, in.data)
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func writeResults(path string, val any, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return writeJSON(os.Stdout, val)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	if err := writeJSON(f, val); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("results saved", "path", path)
	return nil
}

// indented, and without escaping non-ASCII or HTML characters
func writeJSON(w io.Writer, val any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}

type featureOutput struct {
	profile.Identity
	Features []features.Field `json:"features,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func extractFeatures(raw json.RawMessage) featureOutput {
	rec, err := profile.Decode(raw)
	if err != nil {
		return featureOutput{
			Identity: profile.IdentityFromJSON(raw).OrUnknown(),
			Error:    err.Error(),
		}
	}
	return featureOutput{
		Identity: rec.Identity.OrUnknown(),
		Features: features.Extract(rec).Fields(),
	}
}

func runFeatures(cctx *cli.Context) error {
	logger := configLogger(cctx, os.Stderr)

	in, err := readInput(cctx)
	if err != nil {
		return err
	}
	val, err := featuresForInput(in)
	if err != nil {
		return err
	}
	return writeResults(cctx.String("output"), val, logger)
}

func featuresForInput(in *cliInput) (any, error) {
	if in.inline || json.Valid(in.data) && firstByte(in.data) == '{' {
		out := extractFeatures(in.data)
		return &out, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(in.data, &records); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON object or array of objects: %w", detect.ErrInput, err)
	}
	outs := make([]featureOutput, len(records))
	for i, raw := range records {
		outs[i] = extractFeatures(raw)
	}
	return outs, nil
}

func firstByte(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}
