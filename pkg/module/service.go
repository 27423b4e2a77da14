package module

import (
	"context"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

type serviceModule struct {
	spec *tasklist.ServiceModule
}

func (m serviceModule) DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	if m.spec.State == nil && m.spec.Enabled == nil {
		return tasklist.StepChange{}, cerr.New(cerr.KindFailedDryRunEvaluation, "service %s: at least one of state/enabled must be set", m.spec.Name)
	}
	hasSystemctl, _ := ch.Probe(ctx, "systemctl")
	if !hasSystemctl {
		return tasklist.StepChange{}, cerr.New(cerr.KindUnsupportedOnHost, "service: systemctl not available on host")
	}

	var calls []tasklist.ApiCall

	if m.spec.State != nil {
		active, err := systemctlCheck(ctx, ch, priv, "is-active", m.spec.Name)
		if err != nil {
			return tasklist.StepChange{}, err
		}
		wantActive := *m.spec.State == tasklist.ServiceStarted
		if active != wantActive {
			calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallServiceState, ServiceName: m.spec.Name, DesiredState: *m.spec.State})
		}
	}

	if m.spec.Enabled != nil {
		enabled, err := systemctlCheck(ctx, ch, priv, "is-enabled", m.spec.Name)
		if err != nil {
			return tasklist.StepChange{}, err
		}
		if enabled != *m.spec.Enabled {
			calls = append(calls, tasklist.ApiCall{Kind: tasklist.ApiCallServiceEnable, ServiceName: m.spec.Name, DesiredEnable: *m.spec.Enabled})
		}
	}

	return collapseIfEmpty(calls, "service state and enablement already match"), nil
}

func systemctlCheck(ctx context.Context, ch channel.Channel, priv connection.Privilege, sub, name string) (bool, error) {
	res, err := ch.Run(ctx, "systemctl "+sub+" "+name, priv)
	if err != nil {
		return false, cerr.Wrap(cerr.KindFailedDryRunEvaluation, err, "systemctl %s %s", sub, name)
	}
	return res.ExitCode == 0, nil
}

func applyService(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult {
	var cmd, successMsg, failMsg string
	switch call.Kind {
	case tasklist.ApiCallServiceState:
		verb := "stop"
		if call.DesiredState == tasklist.ServiceStarted {
			verb = "start"
		}
		cmd = "systemctl " + verb + " " + call.ServiceName
		successMsg = "service " + call.ServiceName + " " + verb + "ed"
		failMsg = "failed to " + verb + " service " + call.ServiceName
	case tasklist.ApiCallServiceEnable:
		verb := "disable"
		if call.DesiredEnable {
			verb = "enable"
		}
		cmd = "systemctl " + verb + " " + call.ServiceName
		successMsg = "service " + call.ServiceName + " " + verb + "d"
		failMsg = "failed to " + verb + " service " + call.ServiceName
	}
	res, err := ch.Run(ctx, cmd, priv)
	return runResult(res, err, successMsg, failMsg)
}
