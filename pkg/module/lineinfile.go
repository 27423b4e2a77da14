package module

import (
	"context"
	"strconv"
	"strings"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

type lineInFileModule struct {
	spec *tasklist.LineInFileModule
}

var lineInFileRequiredTools = []string{"sed", "grep", "wc", "cat", "test"}

func (m lineInFileModule) DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	for _, tool := range lineInFileRequiredTools {
		ok, _ := ch.Probe(ctx, tool)
		if !ok {
			return tasklist.StepChange{}, cerr.New(cerr.KindUnsupportedOnHost, "lineinfile: %s not available on host", tool)
		}
	}

	exists, err := fileExists(ctx, ch, priv, m.spec.Filepath)
	if err != nil {
		return tasklist.StepChange{}, err
	}
	if !exists {
		return tasklist.StepChange{}, cerr.New(cerr.KindFailedDryRunEvaluation, "lineinfile: %s does not exist", m.spec.Filepath)
	}

	fileLen, err := fileLineCount(ctx, ch, priv, m.spec.Filepath)
	if err != nil {
		return tasklist.StepChange{}, err
	}

	effective, err := resolveEffectivePosition(m.spec.Position, fileLen)
	if err != nil {
		return tasklist.StepChange{}, err
	}

	matched, err := grepLineNumbers(ctx, ch, priv, m.spec.Filepath, m.spec.Line)
	if err != nil {
		return tasklist.StepChange{}, err
	}

	switch m.spec.State {
	case tasklist.StateAbsent:
		if len(matched) == 0 {
			return tasklist.StepChange{Kind: tasklist.ChangeAlreadyMatched, Message: "line already absent"}, nil
		}
		return tasklist.StepChange{
			Kind: tasklist.ChangeRequired,
			Calls: []tasklist.ApiCall{{
				Kind: tasklist.ApiCallLineInFileDel, Filepath: m.spec.Filepath, Line: m.spec.Line, MatchedLines: matched,
			}},
		}, nil

	default: // present
		if len(matched) > 0 && (effective == nil || containsInt(matched, *effective)) {
			return tasklist.StepChange{Kind: tasklist.ChangeAlreadyMatched, Message: "line already present at expected position"}, nil
		}

		// "anywhere" (no match) and "bottom" both mean "append at
		// bottom" rather than a literal sed line index — bottom's
		// effective position is only used above to decide whether an
		// existing last line already satisfies the request; the
		// original implementation (lineinfile.rs) sends position:
		// None for both cases, never a numeric index (grounded on
		// original_source/.../lineinfile.rs).
		call := tasklist.ApiCall{Kind: tasklist.ApiCallLineInFileAdd, Filepath: m.spec.Filepath, Line: m.spec.Line}
		if effective != nil && m.spec.Position.Named != tasklist.PositionBottom {
			call.AtLine = *effective
		} else {
			call.Append = true
		}
		return tasklist.StepChange{Kind: tasklist.ChangeRequired, Calls: []tasklist.ApiCall{call}}, nil
	}
}

// resolveEffectivePosition converts the declared position into a 1-based
// line number, or nil for "anywhere" (don't care), per spec.md §4.2.
func resolveEffectivePosition(pos tasklist.LineFilePosition, fileLen int) (*int, error) {
	one := 1
	switch pos.Named {
	case tasklist.PositionTop:
		return &one, nil
	case tasklist.PositionBottom:
		n := fileLen
		return &n, nil
	case tasklist.PositionAnywhere:
		return nil, nil
	}
	if pos.Line != nil {
		if *pos.Line < 1 || *pos.Line > fileLen {
			return nil, cerr.New(cerr.KindPositionOutOfRange, "lineinfile: position %d out of range [1,%d]", *pos.Line, fileLen)
		}
		n := *pos.Line
		return &n, nil
	}
	return nil, nil
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func fileExists(ctx context.Context, ch channel.Channel, priv connection.Privilege, path string) (bool, error) {
	res, err := ch.Run(ctx, "test -f "+shQuote(path), priv)
	if err != nil {
		return false, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "test -f %s", path)
	}
	return res.ExitCode == 0, nil
}

func fileLineCount(ctx context.Context, ch channel.Channel, priv connection.Privilege, path string) (int, error) {
	res, err := ch.Run(ctx, "wc -l < "+shQuote(path), priv)
	if err != nil {
		return 0, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "wc -l %s", path)
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if convErr != nil {
		return 0, cerr.Wrap(cerr.KindFailedDryRunEvaluation, convErr, "parse wc -l output %q", res.Stdout)
	}
	return n, nil
}

// grepLineNumbers returns the 1-based line numbers where line appears,
// via `grep -n -F -w`, per spec.md §4.2.
func grepLineNumbers(ctx context.Context, ch channel.Channel, priv connection.Privilege, path, line string) ([]int, error) {
	res, err := ch.Run(ctx, "grep -n -F -w "+shQuote(line)+" "+shQuote(path), priv)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "grep %s", path)
	}
	if res.ExitCode != 0 {
		return nil, nil
	}
	var nums []int
	for _, l := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if l == "" {
			continue
		}
		idx := strings.IndexByte(l, ':')
		if idx < 0 {
			continue
		}
		n, convErr := strconv.Atoi(l[:idx])
		if convErr == nil {
			nums = append(nums, n)
		}
	}
	return nums, nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func applyLineInFileAdd(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult {
	// Append (anywhere/bottom) never needs the current line count: the
	// shell append is correct whether the file is empty or not.
	if call.Append {
		res, runErr := ch.Run(ctx, "echo "+shQuote(call.Line)+" >> "+shQuote(call.Filepath), priv)
		return runResult(res, runErr, "line added", "failed to add line")
	}

	fileLen, err := fileLineCount(ctx, ch, priv, call.Filepath)
	if err != nil {
		return tasklist.ApiCallResult{Status: tasklist.StatusFailure, Message: err.Error()}
	}

	if fileLen == 0 {
		if call.AtLine != 1 {
			return tasklist.ApiCallResult{Status: tasklist.StatusFailure, Message: "lineinfile: position out of range on empty file (use bottom instead)"}
		}
		res, runErr := ch.Run(ctx, "echo "+shQuote(call.Line)+" >> "+shQuote(call.Filepath), priv)
		return runResult(res, runErr, "line added", "failed to add line")
	}

	cmd := "sed -i '" + strconv.Itoa(call.AtLine) + " i " + call.Line + "' " + shQuote(call.Filepath)
	res, runErr := ch.Run(ctx, cmd, priv)
	return runResult(res, runErr, "line added", "failed to add line")
}

func applyLineInFileDel(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult {
	if len(call.MatchedLines) == 0 {
		return tasklist.ApiCallResult{Status: tasklist.StatusChangeSuccessful, Message: "no matching lines to delete"}
	}
	var script strings.Builder
	for _, n := range call.MatchedLines {
		script.WriteString(strconv.Itoa(n))
		script.WriteString("d;")
	}
	cmd := "sed -i '" + script.String() + "' " + shQuote(call.Filepath)
	res, runErr := ch.Run(ctx, cmd, priv)
	return runResult(res, runErr, "line(s) deleted", "failed to delete line(s)")
}
