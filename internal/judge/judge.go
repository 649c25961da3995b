// Package judge scores model responses against an expected behaviour using a
// second model as judge.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/giantswarm/prompt-testing/internal/llm"
	"github.com/giantswarm/prompt-testing/internal/testsuite"
	"github.com/giantswarm/prompt-testing/internal/toolcall"
)

// PassThreshold is the minimum score of a passing evaluation.
const PassThreshold = 7

// Input is what the judge sees of a step.
type Input struct {
	UserInput        string
	ActualResponse   string
	ExpectedBehavior string
}

// Judge evaluates step responses with an LLM.
type Judge struct {
	client       llm.Client
	defaultModel string
}

// New creates a Judge. defaultModel is used when Evaluate gets no model.
func New(client llm.Client, defaultModel string) *Judge {
	return &Judge{client: client, defaultModel: defaultModel}
}

// verdict is the JSON object the rubric asks for. Score is a float because
// judges occasionally answer with fractional scores.
type verdict struct {
	Passed   bool    `json:"passed"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Evaluate asks the judge model for a verdict. It never fails: transport and
// parse problems become a zero-score failed evaluation whose feedback carries
// the diagnostic. The score is clamped to 0..10 and Passed is derived from
// it rather than trusted.
func (j *Judge) Evaluate(ctx context.Context, in Input, judgeModel string) testsuite.Evaluation {
	if judgeModel == "" {
		judgeModel = j.defaultModel
	}

	prompt := fmt.Sprintf(EvaluationPrompt, in.UserInput, in.ActualResponse, in.ExpectedBehavior)

	reply, err := j.client.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, judgeModel)
	if err != nil {
		slog.Error("judge request failed", "model", judgeModel, "error", err)
		return failed(err)
	}

	eval, err := parseVerdict(reply)
	if err != nil {
		slog.Error("judge reply unparseable", "model", judgeModel, "error", err)
		return failed(err)
	}

	slog.Debug("judge verdict", "model", judgeModel, "score", eval.Score, "passed", eval.Passed)
	return eval
}

func parseVerdict(reply string) (testsuite.Evaluation, error) {
	cleaned := strings.TrimSpace(toolcall.StripCodeFences(reply))

	var v verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return testsuite.Evaluation{}, fmt.Errorf("invalid judge reply: %w", err)
	}

	score := int(math.Round(v.Score))
	score = max(0, min(10, score))

	if v.Passed != (score >= PassThreshold) {
		slog.Warn("judge verdict inconsistent with score, deriving from score",
			"score", score,
			"reported_passed", v.Passed,
		)
	}

	return testsuite.Evaluation{
		Passed:   score >= PassThreshold,
		Score:    score,
		Feedback: v.Feedback,
	}, nil
}

func failed(err error) testsuite.Evaluation {
	return testsuite.Evaluation{
		Passed:   false,
		Score:    0,
		Feedback: fmt.Sprintf("Error in evaluation: %v", err),
	}
}
