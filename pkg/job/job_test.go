package job

import (
	"context"
	"testing"

	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/tasklist"
)

func TestJobDryRunReachability(t *testing.T) {
	doc := []byte(`
- steps:
    - ping:
`)
	j, err := New().
		SetAddress("localhost").
		SetConnection(connection.Info{Mode: connection.ModeLocalCurrentUser}).
		SetTaskListFromStr(doc, tasklist.FormatYAML)
	if err != nil {
		t.Fatalf("SetTaskListFromStr: %v", err)
	}

	if err := j.DryRun(context.Background()); err != nil {
		t.Fatalf("DryRun: %v", err)
	}

	out := j.Output()
	if out.Host != "localhost" {
		t.Fatalf("host = %q", out.Host)
	}
	if len(out.Tasks) != 1 || len(out.Tasks[0].Steps) != 1 {
		t.Fatalf("tasks = %+v", out.Tasks)
	}
}

func TestJobMissingTaskList(t *testing.T) {
	j := New().SetAddress("localhost").SetConnection(connection.Info{Mode: connection.ModeLocalCurrentUser})
	if err := j.DryRun(context.Background()); err == nil {
		t.Fatal("want error when no task list is set")
	}
}

func TestJobListBroadcastsVarsAndConnection(t *testing.T) {
	hosts := []tasklist.Host{{Address: "h1"}, {Address: "h2"}}
	jl := NewJobList(hosts, &tasklist.TaskList{})
	jl.SetConnection(connection.Info{Mode: connection.ModeLocalCurrentUser}).SetVar("env", "prod")

	for _, j := range jl.Jobs() {
		if j.connInfo.Mode != connection.ModeLocalCurrentUser {
			t.Errorf("job %s connInfo = %+v", j.Address(), j.connInfo)
		}
		if j.vars["env"] != "prod" {
			t.Errorf("job %s vars = %+v", j.Address(), j.vars)
		}
	}
}
