package keeper

import "context"

// Job is one unit of keeper work executed every tick. Jobs must be safe to
// re-run: a tick can be cut short by shutdown and repeated by the next one.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the jobs a keeper instance runs, in registration order.
// Order matters: the health job runs first so the execution job sees a
// fresh verdict.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register appends a job. Nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
