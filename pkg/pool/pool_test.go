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

package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobsRunAndFree(t *testing.T) {
	p := New(2, 10)
	defer p.Stop()

	var ran, freed atomic.Int32

	handles := make([]*JobHandle, 0, 5)

	for i := 0; i < 5; i++ {
		h := p.Submit(
			func() { ran.Add(1) },
			func() { freed.Add(1) },
		)
		require.NotNil(t, h)
		handles = append(handles, h)
	}

	for _, h := range handles {
		h.Wait()
	}

	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, int32(5), freed.Load())
}

func TestSubmitBackpressure(t *testing.T) {
	p := New(1, 1)
	defer p.Stop()

	var release sync.WaitGroup

	release.Add(1)

	// Occupy the single worker.
	busy := p.Submit(func() { release.Wait() }, nil)
	require.NotNil(t, busy)

	// Give the worker a moment to pick the job up, then fill the queue.
	time.Sleep(50 * time.Millisecond)

	queued := p.Submit(func() {}, nil)
	require.NotNil(t, queued)

	// Queue is now full; submission reports backpressure with nil.
	overflow := p.Submit(func() {}, nil)
	assert.Nil(t, overflow)

	release.Done()
	busy.Wait()
	queued.Wait()
}

func TestStopFreesQueuedJobs(t *testing.T) {
	p := New(1, 10)

	var release sync.WaitGroup

	release.Add(1)

	var ran, freed atomic.Int32

	busy := p.Submit(func() { release.Wait(); ran.Add(1) }, func() { freed.Add(1) })
	require.NotNil(t, busy)

	time.Sleep(50 * time.Millisecond)

	// These may be picked up or discarded at stop, but their free hooks
	// must fire exactly once either way.
	for i := 0; i < 3; i++ {
		require.NotNil(t, p.Submit(func() { ran.Add(1) }, func() { freed.Add(1) }))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		release.Done()
	}()

	p.Stop()

	// The in-flight job ran to completion.
	assert.GreaterOrEqual(t, ran.Load(), int32(1))
	assert.Equal(t, int32(4), freed.Load())

	// Submissions after stop are rejected.
	assert.Nil(t, p.Submit(func() {}, nil))

	p.Stop() // idempotent
}
