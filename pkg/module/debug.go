package module

import (
	"context"

	"github.com/convergeops/converge/pkg/channel"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

type debugModule struct {
	spec *tasklist.DebugModule
}

// DryRun always matches: debug is a no-op message step.
func (m debugModule) DryRun(ctx context.Context, ch channel.Channel, priv connection.Privilege) (tasklist.StepChange, error) {
	return tasklist.StepChange{Kind: tasklist.ChangeAlreadyMatched, Message: m.spec.Msg}, nil
}
