package cron

import "context"

// JobStore persists cron jobs across restarts. Implementations must
// guarantee persistence-before-execute: SaveJob is called (and its error
// checked) before a due job is handed to a runner, so a crash between
// firing and persisting state never causes a duplicate fire of an "at" job.
type JobStore interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	SaveJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
}
