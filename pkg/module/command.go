package module

import (
	"context"

	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

type commandModule struct {
	spec *tasklist.CommandModule
}

// DryRun never matches: command always emits one api-call carrying the
// literal command string (spec.md §4.2).
func (m commandModule) DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	return tasklist.StepChange{
		Kind: tasklist.ChangeRequired,
		Calls: []tasklist.ApiCall{
			{Kind: tasklist.ApiCallCommand, CommandContent: m.spec.Content},
		},
	}, nil
}

func applyCommand(ctx context.Context, ch channel.Channel, priv connection.Privilege, call tasklist.ApiCall) tasklist.ApiCallResult {
	res, err := ch.Run(ctx, call.CommandContent, priv)
	return runResult(res, err, "command succeeded", "command failed")
}
