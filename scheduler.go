// SPDX-License-Identifier: MIT

package tapohub

import (
	"sync"
	"time"
)

// Scheduler runs the background jobs of hubs and devices: one-shot delayed
// startup work and recurring polls. Callbacks of a single job never overlap
// themselves; distinct jobs run concurrently. Cancel only prevents the next
// scheduled run, an in-flight callback is left to finish.
type Scheduler struct {
	wg sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Job is a handle to a scheduled callback.
type Job struct {
	cancel chan struct{}
	once   sync.Once
}

// Cancel stops the job. Safe to call more than once and on a nil handle.
func (j *Job) Cancel() {
	if j == nil {
		return
	}
	j.once.Do(func() {
		close(j.cancel)
	})
}

// Schedule runs fn once after delay.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Job {
	job := &Job{cancel: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			fn()
		case <-job.cancel:
		}
	}()
	return job
}

// ScheduleWithFixedDelay runs fn after initialDelay and then repeatedly,
// waiting delay between the end of one run and the start of the next.
func (s *Scheduler) ScheduleWithFixedDelay(initialDelay, delay time.Duration, fn func()) *Job {
	job := &Job{cancel: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(initialDelay)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn()
				t.Reset(delay)
			case <-job.cancel:
				return
			}
		}
	}()
	return job
}

// Wait blocks until all jobs have stopped. Used on daemon shutdown after the
// owning handlers were disposed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
