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

package udf

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
	"github.com/TurbineOne/udf-pipeline/pkg/queue"
)

// dropAllUdf drops every frame it sees.
type dropAllUdf struct{}

func (*dropAllUdf) Process(_ *frame.Frame) RetCode {
	return DropFrame
}

// chainSpyUdf counts how many times it runs.
type chainSpyUdf struct {
	tag   string
	calls *atomic.Int32
}

func (u *chainSpyUdf) Process(_ *frame.Frame) RetCode {
	u.calls.Add(1)

	return Ok
}

//nolint:gochecknoinits // loader registry entries for the tests below
func init() {
	Register("mgr-test-drop", func(_ Config) (interface{}, error) {
		return &dropAllUdf{}, nil
	})
}

func newQueues() (*FrameQueue, *FrameQueue) {
	return queue.New[*frame.Frame](-1), queue.New[*frame.Frame](-1)
}

// pushFrame queues a single-plane frame with a releaser counter wired to
// released.
func pushFrame(t *testing.T, in *FrameQueue, released *atomic.Int32) {
	t.Helper()

	f := frame.New()
	require.NoError(t, f.AddFrame([]byte("Hello, World!\x00"),
		func() { released.Add(1) }, 14, 1, 1, codec.EncodeNone, 0))
	require.NoError(t, in.Push(f))
}

// waitFor polls cond for up to 3 seconds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("condition not met within 3s")
}

// UDF chain drop: a dropping chain emits nothing and leaks nothing.
func TestManagerDropChain(t *testing.T) {
	in, out := newQueues()

	cfg := ManagerConfigDefault()
	cfg.Udfs = []UdfConfig{{Name: "mgr-test-drop"}}

	m, err := NewManager(cfg, in, out)
	require.NoError(t, err)

	m.Start()

	var released atomic.Int32

	pushFrame(t, in, &released)

	waitFor(t, func() bool { return released.Load() == 1 })
	assert.True(t, out.Empty(), "dropped frames must not reach the output queue")

	m.Close()
	assert.Equal(t, int32(1), released.Load(), "releaser fires exactly once")
}

func TestManagerPassChain(t *testing.T) {
	var calls atomic.Int32

	Register("mgr-test-spy", func(_ Config) (interface{}, error) {
		return &chainSpyUdf{tag: "spy", calls: &calls}, nil
	})

	in, out := newQueues()

	cfg := ManagerConfigDefault()
	cfg.Udfs = []UdfConfig{{Name: "mgr-test-spy"}}

	m, err := NewManager(cfg, in, out)
	require.NoError(t, err)

	m.Start()

	var released atomic.Int32

	const frames = 5

	for i := 0; i < frames; i++ {
		pushFrame(t, in, &released)
	}

	waitFor(t, func() bool { return out.Len() == frames })
	assert.EqualValues(t, frames, calls.Load())
	assert.Zero(t, released.Load(), "surviving frames keep their buffers")

	m.Close()

	// Close drained the output queue and destroyed the frames.
	assert.EqualValues(t, frames, released.Load())
}

func TestManagerEncodingPolicy(t *testing.T) {
	Register("mgr-test-pass", func(_ Config) (interface{}, error) {
		return &passUdf{}, nil
	})

	in, out := newQueues()

	cfg := ManagerConfigDefault()
	cfg.Udfs = []UdfConfig{{Name: "mgr-test-pass"}}
	cfg.Encoding = EncodingConfig{Type: "jpeg", Level: 75}

	m, err := NewManager(cfg, in, out)
	require.NoError(t, err)

	m.Start()

	var released atomic.Int32

	pushFrame(t, in, &released)

	waitFor(t, func() bool { return !out.Empty() })

	f, ok := out.Pop()
	require.True(t, ok)

	et, err := f.EncodeType(0)
	require.NoError(t, err)
	assert.Equal(t, codec.EncodeJPEG, et)

	lvl, _ := f.EncodeLevel(0)
	assert.Equal(t, 75, lvl)

	f.Close()
	m.Close()
}

func TestManagerBadEncodingConfig(t *testing.T) {
	in, out := newQueues()

	cfg := ManagerConfigDefault()
	cfg.Encoding = EncodingConfig{Type: "jpeg", Level: 101}

	_, err := NewManager(cfg, in, out)
	assert.Error(t, err)

	cfg.Encoding = EncodingConfig{Type: "webp"}
	_, err = NewManager(cfg, in, out)
	assert.Error(t, err)
}

func TestManagerUnknownUdfIsFatal(t *testing.T) {
	t.Setenv(LibraryPathEnv, t.TempDir())

	in, out := newQueues()

	cfg := ManagerConfigDefault()
	cfg.Udfs = []UdfConfig{{Name: "mgr-test-no-such"}}

	_, err := NewManager(cfg, in, out)
	loadErr := &LoadError{}
	require.ErrorAs(t, err, &loadErr)
}

func TestManagerStartAfterStopIsNoop(t *testing.T) {
	in, out := newQueues()

	m, err := NewManager(ManagerConfigDefault(), in, out)
	require.NoError(t, err)

	m.Start()
	m.Stop()
	m.Start() // must not spawn a second dispatch loop
	m.Stop()  // idempotent
	m.Close()
}

func TestManagerCloseDrainsQueues(t *testing.T) {
	in, out := newQueues()

	m, err := NewManager(ManagerConfigDefault(), in, out)
	require.NoError(t, err)

	// Never started: frames sitting in the input queue are destroyed by
	// Close.
	var released atomic.Int32

	pushFrame(t, in, &released)
	pushFrame(t, in, &released)

	m.Close()
	assert.EqualValues(t, 2, released.Load())
}
