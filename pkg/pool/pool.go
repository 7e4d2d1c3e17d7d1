// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package pool implements a fixed-size worker pool over a bounded job
// queue. Submission is non-blocking: a full queue yields a nil handle
// and the caller applies its own backpressure.
package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TurbineOne/udf-pipeline/pkg/queue"
)

const (
	lWorkers = "workers"
	lMaxJobs = "maxJobs"
)

// pollInterval is how often idle workers re-check the stop flag.
const pollInterval = 250 * time.Millisecond

//nolint:gochecknoglobals // allows logging from non-method funcs
var log = zerolog.Nop()

// SetLogger installs the package logger. Call before New().
func SetLogger(logger zerolog.Logger) {
	log = logger.With().Str("pkg", "pool").Logger()
}

// JobHandle identifies a submitted job. Dropping a handle neither waits
// for nor cancels the job.
type JobHandle struct {
	ID   uuid.UUID
	done chan struct{}
}

// Wait blocks until the job has finished running (or was discarded at
// pool stop).
func (h *JobHandle) Wait() {
	<-h.done
}

// Done returns a channel closed when the job has finished.
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

// job pairs the run function with its context-release hook.
type job struct {
	run  func()
	free func()
	done chan struct{}
}

// Pool runs submitted jobs on a fixed set of worker goroutines.
type Pool struct {
	jobs *queue.Queue[*job]

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// New returns a started pool with maxWorkers workers and a job queue
// bounded at maxJobs entries. A negative maxJobs means unlimited.
func New(maxWorkers, maxJobs int) *Pool {
	p := &Pool{
		jobs:    queue.New[*job](maxJobs),
		stopped: make(chan struct{}),
	}

	log.Debug().Int(lWorkers, maxWorkers).Int(lMaxJobs, maxJobs).Msg("starting worker pool")

	p.wg.Add(maxWorkers)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	return p
}

// Submit enqueues a job. The free hook runs after the job completes, or
// at pool stop if the job never ran; it runs exactly once either way.
// Returns nil when the job queue is full or the pool is stopped, in
// which case neither hook runs and the caller retries.
func (p *Pool) Submit(run func(), free func()) *JobHandle {
	j := &job{
		run:  run,
		free: free,
		done: make(chan struct{}),
	}

	if err := p.jobs.Push(j); err != nil {
		return nil
	}

	return &JobHandle{
		ID:   uuid.New(),
		done: j.done,
	}
}

// worker pops and runs jobs until the pool is stopped. The current job
// always runs to completion.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopped:
			return
		default:
		}

		if !p.jobs.WaitFor(pollInterval) {
			continue
		}

		j, ok := p.jobs.Pop()
		if !ok {
			// Another worker won the race for this job.
			continue
		}

		j.run()

		if j.free != nil {
			j.free()
		}

		close(j.done)
	}
}

// Stop shuts the pool down: no new submissions, in-flight jobs run to
// completion, jobs still queued once the workers have exited are
// discarded with only their free hook invoked. A worker that passed its
// stop check just before Stop may still pick up and run one queued job.
// Idempotent.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.jobs.Close()
		close(p.stopped)
		p.wg.Wait()

		// Workers are gone; release contexts of jobs that never ran.
		for {
			j, ok := p.jobs.Pop()
			if !ok {
				break
			}

			log.Debug().Msg("discarding queued job at pool stop")

			if j.free != nil {
				j.free()
			}

			close(j.done)
		}
	})
}
