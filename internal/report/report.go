// Package report renders executions for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/xlab/treeprint"

	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// previewLen bounds responses and tool results unless full output is asked for.
const previewLen = 160

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Execution writes the step tree of one execution followed by its summary
// line. With full set, responses and tool results are not shortened.
func Execution(w io.Writer, exec *testsuite.Execution, full bool) {
	tree := treeprint.NewWithRoot(headerStyle.Render(fmt.Sprintf("%s / %s", exec.PromptName, exec.TestCaseName)))
	tree.AddNode(labelStyle.Render("model: ") + exec.Model + labelStyle.Render("  judge: ") + exec.JudgeModel)

	for _, r := range exec.Results {
		step := tree.AddBranch(fmt.Sprintf("Step %d %s", r.StepOrder+1, verdict(r.Evaluation)))
		step.AddNode(labelStyle.Render("query: ") + oneLine(r.UserInput, full))
		for _, te := range r.ToolExecutions {
			call := step.AddBranch(toolStyle.Render("tool " + te.ToolName))
			call.AddNode(labelStyle.Render("args: ") + oneLine(encode(te.Arguments), full))
			call.AddNode(labelStyle.Render("result: ") + oneLine(te.Result, full))
		}
		step.AddNode(labelStyle.Render("response: ") + oneLine(r.ActualResponse, full))
		step.AddNode(labelStyle.Render("feedback: ") + oneLine(r.Evaluation.Feedback, true))
	}

	fmt.Fprint(w, tree.String())
	fmt.Fprintln(w, Summary(exec))
}

// Summary returns the one-line outcome of an execution.
func Summary(exec *testsuite.Execution) string {
	passed := 0
	for _, r := range exec.Results {
		if r.Evaluation.Passed {
			passed++
		}
	}

	status := passStyle.Render(string(exec.Status))
	if !exec.Passed() {
		status = failStyle.Render(string(exec.Status))
	}
	line := fmt.Sprintf("%s %s %d/%d steps passed (%s)",
		status, exec.TestCaseID, passed, len(exec.Results), exec.ID)
	if exec.ErrorMessage != "" {
		line += "\n  " + failStyle.Render("error: ") + exec.ErrorMessage
	}
	return line
}

// Totals writes the aggregate line for several executions.
func Totals(w io.Writer, executions []*testsuite.Execution) {
	passed := 0
	for _, e := range executions {
		if e.Passed() {
			passed++
		}
	}
	style := passStyle
	if passed != len(executions) {
		style = failStyle
	}
	fmt.Fprintln(w, style.Render(fmt.Sprintf("%d/%d test cases passed", passed, len(executions))))
}

func verdict(e testsuite.Evaluation) string {
	if e.Passed {
		return passStyle.Render(fmt.Sprintf("PASSED %d/10", e.Score))
	}
	return failStyle.Render(fmt.Sprintf("FAILED %d/10", e.Score))
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func oneLine(s string, full bool) string {
	s = strings.Join(strings.Fields(s), " ")
	if full || len([]rune(s)) <= previewLen {
		return s
	}
	return string([]rune(s)[:previewLen]) + "..."
}
