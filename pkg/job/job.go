// Package job implements the public facade of spec.md §4.6: Job binds
// a host address, connection info, task list, and variables, then
// drives a workflow.Workflow through dry-run or apply; JobList fans
// many Jobs out in parallel over a worker pool.
package job

import (
	"context"
	"os"
	"time"

	"github.com/convergeops/converge/pkg/audit"
	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/channel"
	conctx "github.com/convergeops/converge/pkg/context"
	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/logging"
	"github.com/convergeops/converge/pkg/output"
	"github.com/convergeops/converge/pkg/tasklist"
	"github.com/convergeops/converge/pkg/workflow"
)

// Job is a builder around one (host, task-list, context) triple, per
// spec.md's GLOSSARY. Not safe for concurrent use; JobList gives each
// worker its own Job.
type Job struct {
	address    string
	connInfo   connection.Info
	tl         *tasklist.TaskList
	vars       map[string]any
	withCorrID bool
	corrIDGen  CorrelationIDGenerator
	auditPath  string
	log        *logging.Logger

	lastOutput output.JobOutput
}

// New builds an empty Job. Use the Set* builder methods to configure
// it before calling DryRun or Apply.
func New() *Job {
	return &Job{vars: map[string]any{}, corrIDGen: UUIDCorrelationID{}, log: logging.Discard()}
}

// SetAddress sets the target host address (hostname, IP, or "localhost").
func (j *Job) SetAddress(addr string) *Job { j.address = addr; return j }

// SetConnection sets how the job reaches its host.
func (j *Job) SetConnection(info connection.Info) *Job { j.connInfo = info; return j }

// SetTaskListFromStr parses doc (YAML, JSON, or format-sniffed) as this
// job's task list.
func (j *Job) SetTaskListFromStr(doc []byte, format tasklist.Format) (*Job, error) {
	tl, err := tasklist.Parse(doc, format)
	if err != nil {
		return j, err
	}
	j.tl = tl
	return j, nil
}

// SetTaskListFromFile reads path and parses it as this job's task list.
func (j *Job) SetTaskListFromFile(path string, format tasklist.Format) (*Job, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return j, cerr.Wrap(cerr.KindFailureToParseContent, err, "read task list file %s", path)
	}
	return j.SetTaskListFromStr(doc, format)
}

// SetVar seeds one context variable ahead of the run.
func (j *Job) SetVar(key string, value any) *Job { j.vars[key] = value; return j }

// WithCorrelationID toggles whether Display's JobOutput carries a
// correlation_id field.
func (j *Job) WithCorrelationID(enabled bool) *Job { j.withCorrID = enabled; return j }

// WithCorrelationIDGenerator overrides the default UUID generator.
func (j *Job) WithCorrelationIDGenerator(g CorrelationIDGenerator) *Job { j.corrIDGen = g; return j }

// WithAuditTrail enables a JSONL audit trail appended to path.
func (j *Job) WithAuditTrail(path string) *Job { j.auditPath = path; return j }

// WithLogger overrides the operational logger (default: discarded).
func (j *Job) WithLogger(l *logging.Logger) *Job { j.log = l; return j }

// DryRun evaluates divergence without mutating the host.
func (j *Job) DryRun(ctx context.Context) error {
	return j.run(ctx, func(wf *workflow.Workflow) (*workflow.Report, error) { return wf.DryRun(ctx) })
}

// Apply evaluates divergence and enforces convergence.
func (j *Job) Apply(ctx context.Context) error {
	return j.run(ctx, func(wf *workflow.Workflow) (*workflow.Report, error) { return wf.Apply(ctx) })
}

func (j *Job) run(ctx context.Context, drive func(*workflow.Workflow) (*workflow.Report, error)) error {
	if j.tl == nil {
		return cerr.New(cerr.KindMissingInit, "job %s: no task list set", j.address)
	}

	ch, err := channel.New(j.connInfo, j.address)
	if err != nil {
		return cerr.Wrap(cerr.KindFailedInit, err, "job %s: build channel", j.address)
	}
	if err := ch.Init(ctx); err != nil {
		j.log.WithField("host", j.address).WithError(err).Error("channel init failed")
		return cerr.Wrap(cerr.KindFailedInit, err, "job %s: init channel", j.address)
	}
	defer ch.Close()

	var aw *audit.Writer
	if j.auditPath != "" {
		aw, err = audit.NewFileWriter(j.auditPath, j.address)
		if err != nil {
			j.log.WithField("host", j.address).WithError(err).Warn("failed to open audit trail, continuing without it")
			aw = nil
		}
	}

	var correlationID string
	if j.withCorrID {
		correlationID = j.corrIDGen.Generate()
	}
	aw.EmitJobStart(correlationID)

	tsStart := time.Now().UTC().Format(time.RFC3339)
	vars := conctx.New(j.vars)
	wf := workflow.New(j.tl, ch, vars, aw)

	report, err := drive(wf)
	tsEnd := time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		j.log.WithField("host", j.address).WithError(err).Error("job failed")
		return err
	}

	aw.EmitJobComplete(string(report.FinalStatus))
	j.lastOutput = output.FromReport(j.address, tsStart, tsEnd, correlationID, report)
	return nil
}

// Display serializes the last completed run's JobOutput as compact JSON.
func (j *Job) Display() ([]byte, error) { return output.Compact(j.lastOutput) }

// DisplayPretty serializes the last completed run's JobOutput as
// indented JSON.
func (j *Job) DisplayPretty() ([]byte, error) { return output.Pretty(j.lastOutput) }

// Output returns the last completed run's JobOutput directly.
func (j *Job) Output() output.JobOutput { return j.lastOutput }

// Address returns the job's configured host address.
func (j *Job) Address() string { return j.address }
