package module

import (
	"context"
	"strings"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

func (m packageModule) dryRunYumDnf(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	tool, err := selectYumDnfTool(ctx, ch)
	if err != nil {
		return tasklist.StepChange{}, err
	}

	installed, err := yumDnfInstalled(ctx, ch, priv, tool, m.pkg.Package)
	if err != nil {
		return tasklist.StepChange{}, err
	}

	var calls []tasklist.ApiCall
	switch m.pkg.State {
	case tasklist.StatePresent:
		if !installed {
			calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallYumDnfInstall, Tool: tool, Package: m.pkg.Package})
		}
	case tasklist.StateAbsent:
		if installed {
			calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallYumDnfRemove, Tool: tool, Package: m.pkg.Package})
		}
	}
	if m.pkg.Upgrade {
		calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallYumDnfUpgrade, Tool: tool, Package: m.pkg.Package})
	}
	return collapseIfEmpty(calls, "package state matches, no upgrade requested"), nil
}

// selectYumDnfTool prefers dnf over yum, per spec.md §4.2.
func selectYumDnfTool(ctx context.Context, ch channel.Channel) (string, error) {
	hasDnf, _ := ch.Probe(ctx, "dnf")
	if hasDnf {
		return "dnf", nil
	}
	hasYum, _ := ch.Probe(ctx, "yum")
	if hasYum {
		return "yum", nil
	}
	return "", cerr.New(cerr.KindUnsupportedOnHost, "yumdnf: neither dnf nor yum available on host")
}

func yumDnfInstalled(ctx context.Context, ch channel.Channel, priv connection.Privilege, tool, pkg string) (bool, error) {
	res, err := ch.Run(ctx, tool+" list installed "+pkg, priv)
	if err != nil {
		return false, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "%s list installed %s", tool, pkg)
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	return strings.Contains(res.Stdout, pkg), nil
}
