package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

const defaultModelPath = "trained_models/bot_clf/pipeline_xgboost_wo_rates.onnx"

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

var modelFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "model-path",
		Aliases: []string{"m"},
		Usage:   "path to ONNX classifier model file",
		Value:   defaultModelPath,
		EnvVars: []string{"BOTDETECT_MODEL_PATH"},
	},
	&cli.StringFlag{
		Name:    "onnxruntime-lib",
		Usage:   "path to the onnxruntime shared library",
		EnvVars: []string{"ONNXRUNTIME_SHARED_LIBRARY_PATH"},
	},
	&cli.StringFlag{
		Name:    "model-input",
		Usage:   "name of the model's feature tensor input",
		Value:   "input",
		EnvVars: []string{"BOTDETECT_MODEL_INPUT"},
	},
	&cli.StringFlag{
		Name:    "model-label-output",
		Usage:   "name of the model's class label output (default: first output)",
		EnvVars: []string{"BOTDETECT_MODEL_LABEL_OUTPUT"},
	},
	&cli.StringFlag{
		Name:    "model-probability-output",
		Usage:   "name of the model's class probability output (default: second output)",
		EnvVars: []string{"BOTDETECT_MODEL_PROBABILITY_OUTPUT"},
	},
	&cli.IntFlag{
		Name:    "onnx-threads",
		Usage:   "intra-op thread count for onnxruntime (0 for runtime default)",
		EnvVars: []string{"BOTDETECT_ONNX_THREADS"},
	},
	&cli.IntFlag{
		Name:    "prediction-cache-size",
		Usage:   "number of distinct feature vectors to memoize predictions for (0 disables)",
		EnvVars: []string{"BOTDETECT_PREDICTION_CACHE_SIZE"},
	},
}

var inputFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "features",
		Aliases: []string{"f"},
		Usage:   "path to JSON file containing one user record or an array of user records",
	},
	&cli.StringFlag{
		Name:    "single-user",
		Aliases: []string{"u"},
		Usage:   "JSON string of a single user record",
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output file path for results (default: stdout)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "verbose output, including full error context",
	},
}

var batchFlags = []cli.Flag{
	&cli.IntFlag{
		Name:    "workers",
		Usage:   "number of records to process concurrently",
		Value:   1,
		EnvVars: []string{"BOTDETECT_WORKERS"},
	},
	&cli.BoolFlag{
		Name:    "batch-inference",
		Usage:   "send all records of a batch to the classifier in a single call",
		EnvVars: []string{"BOTDETECT_BATCH_INFERENCE"},
	},
}

func run(args []string) error {

	// "-v" is verbose, not version
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}

	app := cli.App{
		Name:    "botdetect",
		Usage:   "account bot detection from profile features",
		Version: versioninfo.Short(),
	}

	predictFlags := concatFlags(inputFlags, modelFlags, batchFlags)

	app.Flags = append([]cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"BOTDETECT_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}, predictFlags...)
	// running without a subcommand behaves like "predict"
	app.Action = runPredict

	app.Commands = []*cli.Command{
		&cli.Command{
			Name:   "predict",
			Usage:  "classify one account, or a batch of accounts",
			Flags:  predictFlags,
			Action: runPredict,
		},
		&cli.Command{
			Name:   "features",
			Usage:  "print the feature vector of one account or a batch of accounts, without a model",
			Flags:  inputFlags,
			Action: runFeatures,
		},
		&cli.Command{
			Name:   "inspect-model",
			Usage:  "print input and output names and shapes of the classifier model",
			Flags:  modelFlags,
			Action: runInspectModel,
		},
		&cli.Command{
			Name:   "serve",
			Usage:  "run the bot detection HTTP API",
			Flags:  concatFlags(serveFlags, modelFlags, batchFlags),
			Action: runServe,
		},
	}

	return app.Run(args)
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func logLevel(cctx *cli.Context) slog.Level {
	if cctx.Bool("verbose") {
		return slog.LevelDebug
	}
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// CLI commands log as text, to stderr, so stdout stays clean for results
func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: logLevel(cctx),
	}))
	slog.SetDefault(logger)
	return logger
}

// the daemon logs JSON, like the other services
func configJSONLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: logLevel(cctx),
	}))
	slog.SetDefault(logger)
	return logger
}

// flattens a wrapped error chain, outermost first, for verbose error output
func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			// follow the last wrapped error, which is the cause in "%w: %w" wrapping
			errs := x.Unwrap()
			if len(errs) == 0 {
				return chain
			}
			err = errs[len(errs)-1]
		default:
			err = errors.Unwrap(err)
		}
	}
	return chain
}
