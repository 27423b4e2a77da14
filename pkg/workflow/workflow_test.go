package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/convergeops/converge/pkg/audit"
	"github.com/convergeops/converge/pkg/channel"
	conctx "github.com/convergeops/converge/pkg/context"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

type scriptedChannel struct {
	probes  map[string]bool
	handler func(cmd string) channel.Result
}

func (c *scriptedChannel) Init(ctx context.Context) error { return nil }
func (c *scriptedChannel) Close() error                   { return nil }
func (c *scriptedChannel) Probe(ctx context.Context, cmd string) (bool, error) {
	return c.probes[cmd], nil
}
func (c *scriptedChannel) Run(ctx context.Context, cmd string, priv connection.Privilege) (channel.Result, error) {
	return c.handler(cmd), nil
}

var normalPriv = connection.Privilege{Mode: connection.PrivilegeNormal}

func newWF(t *testing.T, tl *tasklist.TaskList, ch channel.Channel) *Workflow {
	t.Helper()
	return New(tl, ch, conctx.New(nil), (*audit.Writer)(nil))
}

// Scenario 1: reachability only.
func TestScenario_ReachabilityOnly(t *testing.T) {
	tl := &tasklist.TaskList{Tasks: []tasklist.Task{
		{Steps: []tasklist.Step{{Module: tasklist.Module{Kind: tasklist.KindPing}}}},
	}}
	ch := &scriptedChannel{handler: func(cmd string) channel.Result {
		if cmd == "id" {
			return channel.Result{ExitCode: 0, Stdout: "uid=0(root)"}
		}
		return channel.Result{ExitCode: 0}
	}}
	wf := newWF(t, tl, ch)

	dr, err := wf.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if dr.FinalStatus != tasklist.StatusAlreadyMatched {
		t.Fatalf("dry-run final status = %s, want already-matched", dr.FinalStatus)
	}

	ap, err := wf.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ap.FinalStatus != tasklist.StatusAlreadyMatched {
		t.Fatalf("apply final status = %s, want already-matched", ap.FinalStatus)
	}
}

// Scenario 2: idempotent apt install — first apply installs, second
// reports already-matched.
func TestScenario_IdempotentAptInstall(t *testing.T) {
	installed := false
	ch := &scriptedChannel{
		probes: map[string]bool{"apt-get": true, "dpkg": true},
		handler: func(cmd string) channel.Result {
			switch {
			case strings.HasPrefix(cmd, "dpkg -s"):
				if installed {
					return channel.Result{ExitCode: 0}
				}
				return channel.Result{ExitCode: 1}
			case strings.Contains(cmd, "apt-get install"):
				installed = true
				return channel.Result{ExitCode: 0}
			}
			return channel.Result{ExitCode: 0}
		},
	}
	newTL := func() *tasklist.TaskList {
		return &tasklist.TaskList{Tasks: []tasklist.Task{
			{Steps: []tasklist.Step{{Module: tasklist.Module{Kind: tasklist.KindApt, Apt: &tasklist.PackageModule{State: tasklist.StatePresent, Package: "git"}}}}},
		}}
	}

	wf1 := newWF(t, newTL(), ch)
	first, err := wf1.Apply(context.Background())
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if first.Tasks[0].Steps[0].Status != tasklist.StatusApplySuccessful {
		t.Fatalf("first apply step status = %s, want apply-successful", first.Tasks[0].Steps[0].Status)
	}

	wf2 := newWF(t, newTL(), ch)
	second, err := wf2.Apply(context.Background())
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if second.Tasks[0].Steps[0].Status != tasklist.StatusAlreadyMatched {
		t.Fatalf("second apply step status = %s, want already-matched", second.Tasks[0].Steps[0].Status)
	}
}

// Scenario 3: allowed failure.
func TestScenario_AllowedFailure(t *testing.T) {
	tl := &tasklist.TaskList{Tasks: []tasklist.Task{
		{Steps: []tasklist.Step{
			{AllowedToFail: true, Module: tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "false"}}},
			{Module: tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "true"}}},
		}},
	}}
	ch := &scriptedChannel{handler: func(cmd string) channel.Result {
		if cmd == "false" {
			return channel.Result{ExitCode: 1}
		}
		return channel.Result{ExitCode: 0}
	}}
	wf := newWF(t, tl, ch)
	report, err := wf.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	steps := report.Tasks[0].Steps
	if steps[0].Status != tasklist.StatusApplyFailedButAllowed {
		t.Errorf("step 1 = %s, want apply-failed-but-allowed", steps[0].Status)
	}
	if steps[1].Status != tasklist.StatusApplySuccessful {
		t.Errorf("step 2 = %s, want apply-successful", steps[1].Status)
	}
	if report.Tasks[0].Status != tasklist.StatusApplyFailedButAllowed {
		t.Errorf("task = %s, want apply-failed-but-allowed", report.Tasks[0].Status)
	}
}

// Scenario 4: hard failure short-circuits the task.
func TestScenario_HardFailureShortCircuits(t *testing.T) {
	tl := &tasklist.TaskList{Tasks: []tasklist.Task{
		{Steps: []tasklist.Step{
			{Module: tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "false"}}},
			{Module: tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "true"}}},
		}},
	}}
	ch := &scriptedChannel{handler: func(cmd string) channel.Result {
		if cmd == "false" {
			return channel.Result{ExitCode: 1}
		}
		return channel.Result{ExitCode: 0}
	}}
	wf := newWF(t, tl, ch)
	report, err := wf.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	steps := report.Tasks[0].Steps
	if steps[0].Status != tasklist.StatusApplyFailed {
		t.Errorf("step 1 = %s, want apply-failed", steps[0].Status)
	}
	if steps[1].Status != tasklist.StatusNotRun {
		t.Errorf("step 2 = %s, want not-run", steps[1].Status)
	}
	if report.Tasks[0].Status != tasklist.StatusApplyFailed {
		t.Errorf("task = %s, want apply-failed", report.Tasks[0].Status)
	}
}

// Scenario 5: register + template. Uses spec.md §8's own literal
// syntax, `{{ probe.output }}`, not the teacher's dot-prefixed form.
func TestScenario_RegisterAndTemplate(t *testing.T) {
	tl := &tasklist.TaskList{Tasks: []tasklist.Task{
		{Steps: []tasklist.Step{
			{Register: "probe", Module: tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "echo 42"}}},
			{Module: tasklist.Module{Kind: tasklist.KindCommand, Command: &tasklist.CommandModule{Content: "echo {{ probe.output }}"}}},
		}},
	}}
	ch := &scriptedChannel{handler: func(cmd string) channel.Result {
		if cmd == "echo 42" {
			return channel.Result{ExitCode: 0, Stdout: "42"}
		}
		return channel.Result{ExitCode: 0, Stdout: cmd}
	}}
	wf := newWF(t, tl, ch)
	report, err := wf.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := report.Tasks[0].Steps[1].ExpectedState.Command.Content
	if got != "echo 42" {
		t.Fatalf("step 2 rendered content = %q, want %q", got, "echo 42")
	}
}

// Scenario 6: line-in-file positioning.
func TestScenario_LineInFilePositioning(t *testing.T) {
	tl := &tasklist.TaskList{Tasks: []tasklist.Task{
		{Steps: []tasklist.Step{{Module: tasklist.Module{Kind: tasklist.KindLineInFile, LineInFile: &tasklist.LineInFileModule{
			Filepath: "/tmp/t", Line: "b", State: tasklist.StatePresent,
			Position: tasklist.LineFilePosition{Line: intp(2)},
		}}}}},
	}}
	var sedCmd string
	ch := &scriptedChannel{
		probes: map[string]bool{"sed": true, "grep": true, "wc": true, "cat": true, "test": true},
		handler: func(cmd string) channel.Result {
			switch {
			case strings.HasPrefix(cmd, "test -f"):
				return channel.Result{ExitCode: 0}
			case strings.HasPrefix(cmd, "wc -l"):
				return channel.Result{ExitCode: 0, Stdout: "2\n"}
			case strings.HasPrefix(cmd, "grep -n -F -w"):
				return channel.Result{ExitCode: 1}
			case strings.HasPrefix(cmd, "sed -i"):
				sedCmd = cmd
				return channel.Result{ExitCode: 0}
			}
			return channel.Result{ExitCode: 0}
		},
	}
	wf := newWF(t, tl, ch)
	report, err := wf.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Tasks[0].Steps[0].Status != tasklist.StatusApplySuccessful {
		t.Fatalf("step status = %s, want apply-successful", report.Tasks[0].Steps[0].Status)
	}
	if !strings.Contains(sedCmd, "2 i b") {
		t.Fatalf("sed command = %q, want insertion at line 2", sedCmd)
	}
}

func intp(n int) *int { return &n }
