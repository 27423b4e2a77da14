package job

import (
	"context"
	"runtime"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/convergeops/converge/pkg/connection"
	"github.com/convergeops/converge/pkg/output"
	"github.com/convergeops/converge/pkg/tasklist"
)

// JobList is a collection of Jobs built from a host list plus a shared
// task list. DryRun/Apply fan the jobs out across a fixed-size worker
// pool (spec.md §4.6, §9 "Parallel job execution") — one worker per
// job, a goroutine per in-flight job rather than one per host, so a
// large JobList does not oversubscribe.
type JobList struct {
	jobs        []*Job
	poolSize    int
	connInfo    connection.Info
	connInfoSet bool
}

// NewJobList builds one Job per host, each pre-loaded with tl and the
// host's own vars.
func NewJobList(hosts []tasklist.Host, tl *tasklist.TaskList) *JobList {
	jl := &JobList{poolSize: runtime.NumCPU()}
	for _, h := range hosts {
		j := New().SetAddress(h.Address)
		j.tl = tl
		for k, v := range h.Vars {
			j.SetVar(k, v)
		}
		jl.jobs = append(jl.jobs, j)
	}
	return jl
}

// WithPoolSize overrides the default worker-pool size (logical-CPU
// count).
func (jl *JobList) WithPoolSize(n int) *JobList {
	if n > 0 {
		jl.poolSize = n
	}
	return jl
}

// SetConnection broadcasts connection info to every job, replacing any
// connection a job already had.
func (jl *JobList) SetConnection(info connection.Info) *JobList {
	jl.connInfo = info
	jl.connInfoSet = true
	for _, j := range jl.jobs {
		j.SetConnection(info)
	}
	return jl
}

// SetVar broadcasts one variable to every job.
func (jl *JobList) SetVar(key string, value any) *JobList {
	for _, j := range jl.jobs {
		j.SetVar(key, value)
	}
	return jl
}

// Jobs returns the underlying per-host jobs, e.g. to inspect output
// after a run.
func (jl *JobList) Jobs() []*Job { return jl.jobs }

// Result pairs a job's address with its run error, if any; a failing
// job does not cancel its siblings (spec.md §4.6).
type Result struct {
	Address string
	Err     error
}

// DryRun fans every job's DryRun out across the worker pool and
// returns once all complete.
func (jl *JobList) DryRun(ctx context.Context) []Result {
	return jl.fanOut(ctx, func(j *Job, ctx context.Context) error { return j.DryRun(ctx) })
}

// Apply fans every job's Apply out across the worker pool. SIGINT
// handling (letting in-flight jobs finish while blocking new starts) is
// the caller's responsibility via ctx cancellation — once ctx is
// cancelled, queued jobs that have not yet started are skipped, but a
// job already running is allowed to finish (spec.md §5).
func (jl *JobList) Apply(ctx context.Context) []Result {
	return jl.fanOut(ctx, func(j *Job, ctx context.Context) error { return j.Apply(ctx) })
}

func (jl *JobList) fanOut(ctx context.Context, run func(*Job, context.Context) error) []Result {
	wp := workerpool.New(jl.poolSize)
	results := make([]Result, len(jl.jobs))
	var wg sync.WaitGroup

	for i, j := range jl.jobs {
		i, j := i, j
		wg.Add(1)
		wp.Submit(func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				results[i] = Result{Address: j.Address(), Err: ctx.Err()}
				return
			default:
			}
			// A started job runs on a context detached from ctx's
			// cancellation, so cancelling ctx never kills its commands.
			results[i] = Result{Address: j.Address(), Err: run(j, context.WithoutCancel(ctx))}
		})
	}

	wg.Wait()
	wp.StopWait()
	return results
}

// DisplayAll serializes every job's last-run JobOutput as compact JSON:
// one object whose "jobs" array holds the outputs in job order (no cross-job ordering guarantee is implied
// by that order — spec.md §5 — callers needing a stable order should
// sort by each JobOutput's own timestamps).
func (jl *JobList) DisplayAll() ([]byte, error) {
	outs := make([]output.JobOutput, len(jl.jobs))
	for i, j := range jl.jobs {
		outs[i] = j.Output()
	}
	return output.Compact(struct {
		Jobs []output.JobOutput `json:"jobs"`
	}{Jobs: outs})
}
