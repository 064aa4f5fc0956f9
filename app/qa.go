package app

import (
	"fmt"
	"strings"

	"github.com/kanblam/kanblam/config"
	"github.com/kanblam/kanblam/session"
)

// Markers the QA directive requires the agent to end its verdict with.
const (
	qaPassMarker = "[QA:PASS]"
	qaFailMarker = "[QA:FAIL]"
)

// qaVerdict is what a finished QA session's transcript resolved to.
type qaVerdict int

const (
	// qaInconclusive means neither marker appeared; treated as a failure so a
	// silent agent cannot pass review by omission.
	qaInconclusive qaVerdict = iota
	qaPassed
	qaFailed
)

// qaOutcome scans a session transcript for the verdict markers. The last
// marker wins: transcripts quote earlier attempts, and only the final verdict
// reflects the state of the tree.
func qaOutcome(fullOutput string) qaVerdict {
	pass := strings.LastIndex(fullOutput, qaPassMarker)
	fail := strings.LastIndex(fullOutput, qaFailMarker)
	switch {
	case pass < 0 && fail < 0:
		return qaInconclusive
	case pass > fail:
		return qaPassed
	default:
		return qaFailed
	}
}

// qaFailureDetail pulls the text after the last fail marker, trimmed to one
// paragraph, for inclusion in the retry prompt.
func qaFailureDetail(fullOutput string) string {
	i := strings.LastIndex(fullOutput, qaFailMarker)
	if i < 0 {
		return ""
	}
	detail := fullOutput[i+len(qaFailMarker):]
	if j := strings.Index(detail, "\n\n"); j >= 0 {
		detail = detail[:j]
	}
	return strings.TrimSpace(detail)
}

// qaPrompt builds the directive that sends a stopped session into its
// verification pass. Project commands pin down what to run; absent commands
// leave the choice to the agent.
func qaPrompt(t *session.Task, cmds config.ProjectCommands) string {
	var b strings.Builder
	b.WriteString("The implementation work for this task is done. Now verify it.\n\n")

	var steps []string
	if cmds.Build != "" {
		steps = append(steps, fmt.Sprintf("Run `%s` and make sure it succeeds.", cmds.Build))
	}
	if cmds.Test != "" {
		steps = append(steps, fmt.Sprintf("Run `%s` and make sure every test passes.", cmds.Test))
	}
	if cmds.Lint != "" {
		steps = append(steps, fmt.Sprintf("Run `%s` and fix anything it reports.", cmds.Lint))
	}
	if len(steps) == 0 {
		steps = append(steps, "Build the project and run its test suite using whatever commands this repository uses.")
	}
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}

	b.WriteString("\nReview the changes against the task description:\n")
	b.WriteString(t.Prompt())
	b.WriteString("\n\nFix any problems you find. When everything passes, end your reply with ")
	b.WriteString(qaPassMarker)
	b.WriteString(". If something is broken that you cannot fix, end with ")
	b.WriteString(qaFailMarker)
	b.WriteString(" followed by a short explanation.")
	return b.String()
}

// qaRetryPrompt builds the follow-up directive after a failed QA pass.
func qaRetryPrompt(t *session.Task, cmds config.ProjectCommands, failure string) string {
	var b strings.Builder
	b.WriteString("The previous verification pass failed.")
	if failure != "" {
		b.WriteString(" The reported problem:\n\n")
		b.WriteString(failure)
		b.WriteString("\n")
	}
	b.WriteString("\nFix it, then verify again:\n\n")
	b.WriteString(qaPrompt(t, cmds))
	return b.String()
}
