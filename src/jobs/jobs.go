// Package jobs runs background work that can be canceled and waited on
// during shutdown.
package jobs

import (
	"context"
	"time"

	"git.handmade.network/hmn/imghost/src/logging"
	"github.com/rs/zerolog"
)

type Job struct {
	Name   string
	Ctx    context.Context
	Logger zerolog.Logger
	cancel func()
	done   chan struct{}
}

func New(name string) *Job {
	logger := logging.With().Str("job", name).Logger()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.AttachLoggerToContext(&logger, ctx)
	return &Job{
		Name:   name,
		Ctx:    ctx,
		Logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Go starts f on its own goroutine and finishes the job when f returns.
// Panics are logged rather than taking down the server.
func Go(name string, f func(job *Job)) *Job {
	job := New(name)
	go func() {
		defer job.Finish()
		defer logging.LogPanics(&job.Logger)
		f(job)
	}()
	return job
}

// Noop returns an already finished job, for features that are switched off.
func Noop() *Job {
	job := New("noop")
	job.cancel()
	return job.Finish()
}

// Cancel asks the job to stop by canceling its context.
func (j *Job) Cancel() {
	j.cancel()
}

func (j *Job) Canceled() <-chan struct{} {
	return j.Ctx.Done()
}

// Finish is called by the job itself once all of its work is done.
func (j *Job) Finish() *Job {
	close(j.done)
	return j
}

func (j *Job) Finished() <-chan struct{} {
	return j.done
}

type Jobs []*Job

// CancelAndWait cancels every job and waits until they all finish or the
// timeout passes. Returns the names of jobs that were still running.
func (jobs Jobs) CancelAndWait(timeout time.Duration) []string {
	allDoneChan := make(chan struct{})
	for _, job := range jobs {
		job.Cancel()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	go func() {
		for _, job := range jobs {
			<-job.Finished()
		}
		close(allDoneChan)
	}()

	select {
	case <-timer.C:
		return jobs.ListUnfinished()
	case <-allDoneChan:
		return nil
	}
}

func (jobs Jobs) ListUnfinished() []string {
	unfinished := []string{}
	for _, job := range jobs {
		select {
		case <-job.Finished():
			continue
		default:
			unfinished = append(unfinished, job.Name)
		}
	}
	return unfinished
}
