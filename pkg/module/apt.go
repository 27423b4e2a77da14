package module

import (
	"context"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

// packageToolFamily discriminates apt from yumdnf; both modules share
// the same expected-state shape and diff logic, differing only in the
// probe/install/upgrade commands (spec.md §4.2: "yumdnf identical to
// apt but selects tool dnf if available else yum").
type packageToolFamily int

const (
	toolApt packageToolFamily = iota
	toolYumDnf
)

type packageModule struct {
	pkg  *tasklist.PackageModule
	tool packageToolFamily
}

func (m packageModule) DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	switch m.tool {
	case toolApt:
		return m.dryRunApt(ctx, ch, priv)
	default:
		return m.dryRunYumDnf(ctx, ch, priv)
	}
}

func (m packageModule) dryRunApt(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	hasAptGet, _ := ch.Probe(ctx, "apt-get")
	hasDpkg, _ := ch.Probe(ctx, "dpkg")
	if !hasAptGet || !hasDpkg {
		return tasklist.StepChange{}, cerr.New(cerr.KindUnsupportedOnHost, "apt: apt-get/dpkg not available on host")
	}

	installed, err := dpkgInstalled(ctx, ch, priv, m.pkg.Package)
	if err != nil {
		return tasklist.StepChange{}, err
	}

	var calls []tasklist.ApiCall
	switch m.pkg.State {
	case tasklist.StatePresent:
		if !installed {
			calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallAptInstall, Tool: "apt-get", Package: m.pkg.Package})
		}
	case tasklist.StateAbsent:
		if installed {
			calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallAptRemove, Tool: "apt-get", Package: m.pkg.Package})
		}
	}
	if m.pkg.Upgrade {
		calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallAptUpgrade, Tool: "apt-get", Package: m.pkg.Package})
	}
	return collapseIfEmpty(calls, "package state matches, no upgrade requested"), nil
}

func dpkgInstalled(ctx context.Context, ch channel.Channel, priv connection.Privilege, pkg string) (bool, error) {
	res, err := ch.Run(ctx, "dpkg -s "+pkg, priv)
	if err != nil {
		return false, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "dpkg -s %s", pkg)
	}
	return res.ExitCode == 0, nil
}

// collapseIfEmpty implements the aggregation rule: if every emitted
// call is effectively none (i.e. there are no calls at all once the
// present/absent diff matched), the step already-matches.
func collapseIfEmpty(calls []tasklist.ApiCall, msg string) tasklist.StepChange {
	if len(calls) == 0 {
		return tasklist.StepChange{Kind: tasklist.ChangeAlreadyMatched, Message: msg}
	}
	return tasklist.StepChange{Kind: tasklist.ChangeRequired, Calls: calls}
}

func applyPackageChange(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult {
	var cmd string
	switch call.Kind {
	case tasklist.ApiCallAptInstall:
		cmd = "DEBIAN_FRONTEND=noninteractive apt-get update && DEBIAN_FRONTEND=noninteractive apt-get install -y " + call.Package
	case tasklist.ApiCallAptRemove:
		cmd = "DEBIAN_FRONTEND=noninteractive apt-get remove -y " + call.Package
	case tasklist.ApiCallYumDnfInstall:
		cmd = call.Tool + " install -y " + call.Package
	case tasklist.ApiCallYumDnfRemove:
		cmd = call.Tool + " remove -y " + call.Package
	}
	res, err := ch.Run(ctx, cmd, priv)
	return runResult(res, err, "package "+call.Package+" converged", "package "+call.Package+" operation failed")
}

func applyPackageUpgrade(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult {
	var cmd string
	switch call.Kind {
	case tasklist.ApiCallAptUpgrade:
		cmd = "DEBIAN_FRONTEND=noninteractive apt-get upgrade -y"
	case tasklist.ApiCallYumDnfUpgrade:
		cmd = call.Tool + " update -y --refresh"
	}
	res, err := ch.Run(ctx, cmd, priv)
	return runResult(res, err, "upgrade complete", "upgrade failed")
}
