package detect

import (
	"github.com/bluesky-social/botdetect/classifier"
	"github.com/bluesky-social/botdetect/profile"
)

// Prediction fields of a successful [Result].
type Outcome struct {
	IsBot            bool    `json:"is_bot"`
	BotProbability   float64 `json:"bot_probability"`
	HumanProbability float64 `json:"human_probability"`
	PredictionClass  int64   `json:"prediction_class"`
}

// Result for one account: either prediction fields or an error, plus the echoed identity fields.
//
// Results are built once per record and not modified afterwards.
type Result struct {
	// nil when the record failed
	*Outcome
	profile.Identity
	Error string `json:"error,omitempty"`

	err error
}

func newSuccess(ident profile.Identity, pred classifier.Prediction) Result {
	return Result{
		Outcome: &Outcome{
			IsBot:            pred.IsBot(),
			BotProbability:   float64(pred.Probabilities.Bot),
			HumanProbability: float64(pred.Probabilities.Human),
			PredictionClass:  pred.Class,
		},
		Identity: ident.OrUnknown(),
	}
}

func newFailure(ident profile.Identity, err error) Result {
	return Result{
		Identity: ident.OrUnknown(),
		Error:    err.Error(),
		err:      err,
	}
}

func (r Result) Failed() bool {
	return r.Outcome == nil
}

// The underlying error for failed results; nil otherwise. Use with errors.Is.
func (r Result) Err() error {
	return r.err
}
