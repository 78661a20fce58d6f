package verify

import (
	"context"
	"log/slog"
	"strings"

	"debugarena/internal/domain"
	"debugarena/internal/executor"
)

// Method records how a verdict was reached.
type Method string

const (
	// MethodOutput means the learner's code was executed remotely and its
	// stdout compared against the question's expected output.
	MethodOutput Method = "output"
	// MethodNormalized means the code was compared offline against the
	// canonical solution under normalization.
	MethodNormalized Method = "normalized"
)

// Outcome is the result of verifying one submission.
type Outcome struct {
	Correct bool
	Method  Method
}

// Runner executes code remotely. *executor.Client satisfies it.
type Runner interface {
	Run(ctx context.Context, language, source string) (executor.Result, error)
}

type Config struct {
	Runner Runner
}

// Verifier decides whether a learner's code fixes a question. It is an
// explicit attempt-then-fallback chain: output comparison when an expected
// output exists and the executor is reachable, normalized code equality
// otherwise. Verify never fails the session; executor errors only demote the
// verdict to the offline path.
type Verifier struct {
	runner Runner
}

func New(c Config) *Verifier {
	return &Verifier{runner: c.Runner}
}

// Verify checks code against question q for a quiz in the given language.
func (v *Verifier) Verify(ctx context.Context, language string, q domain.Question, code string) Outcome {
	if q.ExpectedOutput != "" && v.runner != nil {
		res, err := v.runner.Run(ctx, language, code)
		if err == nil {
			return Outcome{
				Correct: rtrim(res.Stdout) == rtrim(q.ExpectedOutput),
				Method:  MethodOutput,
			}
		}

		slog.WarnContext(ctx, "verify: remote execution failed, falling back to code comparison",
			"question", q.ID,
			"error", err,
		)
	}

	return Outcome{
		Correct: Normalize(code) == Normalize(q.Solution),
		Method:  MethodNormalized,
	}
}

func rtrim(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}
