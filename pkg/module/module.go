// Package module implements the module registry of spec.md §4.2: a
// closed, typed case per expected-state directive, each able to dry-run
// (read-only probe) and apply (mutate) against a HostChannel.
package module

import (
	"context"
	"strconv"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

// DryRunner evaluates a module's expected state against the live host
// and reports the StepChange needed to converge. dry_run is read-only:
// it may issue probes but must never mutate the target.
type DryRunner interface {
	DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error)
}

// Applier executes one planned ApiCall and reports its outcome.
type Applier interface {
	Apply(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult
}

// Resolve returns the DryRunner for a Module's active case.
func Resolve(m tasklist.Module) DryRunner {
	switch m.Kind {
	case tasklist.KindPing:
		return pingModule{}
	case tasklist.KindCommand:
		return commandModule{m.Command}
	case tasklist.KindApt:
		return packageModule{pkg: m.Apt, tool: toolApt}
	case tasklist.KindYumDnf:
		return packageModule{pkg: m.YumDnf, tool: toolYumDnf}
	case tasklist.KindService:
		return serviceModule{m.Service}
	case tasklist.KindLineInFile:
		return lineInFileModule{m.LineInFile}
	case tasklist.KindDebug:
		return debugModule{m.Debug}
	default:
		return unknownModule{}
	}
}

// Apply is the single apply entry point: every ApiCall kind dispatches
// here regardless of which module produced it, since ApiCall already
// carries everything Applier needs (spec.md §4.2's "apply(channel)").
func Apply(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult {
	switch call.Kind {
	case tasklist.ApiCallCommand:
		return applyCommand(ctx, ch, priv, call)
	case tasklist.ApiCallAptInstall, tasklist.ApiCallAptRemove, tasklist.ApiCallYumDnfInstall, tasklist.ApiCallYumDnfRemove:
		return applyPackageChange(ctx, ch, priv, call)
	case tasklist.ApiCallAptUpgrade, tasklist.ApiCallYumDnfUpgrade:
		return applyPackageUpgrade(ctx, ch, priv, call)
	case tasklist.ApiCallServiceState, tasklist.ApiCallServiceEnable:
		return applyService(ctx, ch, priv, call)
	case tasklist.ApiCallLineInFileAdd:
		return applyLineInFileAdd(ctx, ch, priv, call)
	case tasklist.ApiCallLineInFileDel:
		return applyLineInFileDel(ctx, ch, priv, call)
	default:
		msg := "unknown api-call kind " + string(call.Kind)
		return tasklist.ApiCallResult{Status: tasklist.StatusFailure, Message: msg}
	}
}

type unknownModule struct{}

func (unknownModule) DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	return tasklist.StepChange{}, cerr.New(cerr.KindNoModule, "no module resolver for this directive")
}

// runResult translates a channel.Result into an ApiCallResult: exit 0 is
// change-successful, non-zero is failure (spec.md §4.2 "apply" rule).
func runResult(res channel.Result, err error, successMsg, failMsgPrefix string) tasklist.ApiCallResult {
	if err != nil {
		return tasklist.ApiCallResult{Status: tasklist.StatusFailure, Message: err.Error()}
	}
	exit := res.ExitCode
	stdout := res.Stdout
	if exit == 0 {
		return tasklist.ApiCallResult{ExitCode: &exit, Stdout: &stdout, Status: tasklist.StatusChangeSuccessful, Message: successMsg}
	}
	return tasklist.ApiCallResult{ExitCode: &exit, Stdout: &stdout, Status: tasklist.StatusFailure, Message: failMsgPrefix + ": exit " + strconv.Itoa(exit)}
}
