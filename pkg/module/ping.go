package module

import (
	"context"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

type pingModule struct{}

// DryRun runs id; success means the host is reachable, failure is a
// host-unreachable error (spec.md §4.2). Like any other dry-run error,
// the workflow demotes it to an allowed failure when the step sets
// allowed_to_fail.
func (pingModule) DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	res, err := ch.Run(ctx, "id", priv)
	if err != nil || res.ExitCode != 0 {
		return tasklist.StepChange{}, cerr.New(cerr.KindHostUnreachable, "ping: host did not respond to id")
	}
	return tasklist.StepChange{Kind: tasklist.ChangeAlreadyMatched, Message: "reachable"}, nil
}
