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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
	"github.com/TurbineOne/udf-pipeline/pkg/pool"
	"github.com/TurbineOne/udf-pipeline/pkg/queue"
)

// FrameQueue carries frames between the ingester, the manager, and the
// publisher.
type FrameQueue = queue.Queue[*frame.Frame]

const (
	defaultMaxWorkers = 4
	defaultMaxJobs    = 20

	// dispatchInterval bounds shutdown latency: the dispatch loop
	// re-checks the stop flag at least this often.
	dispatchInterval = 250 * time.Millisecond

	// submitRetryInterval is the backoff while the pool's job queue is
	// full.
	submitRetryInterval = 10 * time.Millisecond
)

// UdfConfig names one UDF in the chain; everything else in the mapping
// passes through to that UDF's constructor.
type UdfConfig struct { //nolint:govet // Don't care about alignment.
	Name   string `yaml:"name" json:"name" doc:"UDF name: registry entry, lib<name>.so, or scripted module path"`
	Config Config `yaml:",inline" json:"config" doc:"Open-shape UDF settings"`
}

// EncodingConfig is the manager's output encoding policy, applied to the
// primary plane of every frame before dispatch.
type EncodingConfig struct { //nolint:govet // Don't care about alignment.
	Type  string `yaml:"type" json:"type" doc:"Output encoding. One of: none, jpeg, png"`
	Level int    `yaml:"level" json:"level" doc:"JPEG quality (0-100) or PNG compression (0-9)"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct { //nolint:govet // Don't care about alignment.
	Udfs       []UdfConfig    `yaml:"udfs" json:"udfs" doc:"Ordered UDF chain"`
	MaxJobs    int            `yaml:"max_jobs" json:"max_jobs" doc:"Job queue bound; negative is unlimited"`
	MaxWorkers int            `yaml:"max_workers" json:"max_workers" doc:"Worker thread count"`
	Encoding   EncodingConfig `yaml:"encoding" json:"encoding" doc:"Output encoding policy"`
}

// ManagerConfigDefault returns the default values for a ManagerConfig.
func ManagerConfigDefault() ManagerConfig {
	return ManagerConfig{
		MaxJobs:    defaultMaxJobs,
		MaxWorkers: defaultMaxWorkers,
		Encoding:   EncodingConfig{Type: codec.EncodeNone.String()},
	}
}

// parseEncoding resolves the configured policy to a codec encoding.
func parseEncoding(cfg EncodingConfig) (codec.EncodeType, int, error) {
	if cfg.Type == "" || cfg.Type == codec.EncodeNone.String() {
		return codec.EncodeNone, 0, nil
	}

	t, err := codec.ParseEncodeType(cfg.Type)
	if err != nil {
		return codec.EncodeNone, 0, err
	}

	if !codec.VerifyLevel(t, cfg.Level) {
		return codec.EncodeNone, 0, fmt.Errorf("encoding level %d invalid for %s", cfg.Level, t)
	}

	return t, cfg.Level, nil
}

// Manager owns the UDF chain: it pops frames from the input queue,
// applies the output encoding policy, and dispatches each frame through
// the chain on the worker pool. Surviving frames land on the output
// queue; dropped and errored frames are destroyed.
type Manager struct {
	udfs []Handle

	encType  codec.EncodeType
	encLevel int

	in   *FrameQueue
	out  *FrameQueue
	pool *pool.Pool

	stop     atomic.Bool
	started  bool
	stateMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager loads every configured UDF and validates the encoding
// policy. Any failure is fatal and happens before any goroutine starts.
func NewManager(cfg ManagerConfig, in, out *FrameQueue) (*Manager, error) {
	encType, encLevel, err := parseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	maxJobs := cfg.MaxJobs
	if maxJobs == 0 {
		maxJobs = defaultMaxJobs
	}

	loader := NewLoader()
	udfs := make([]Handle, 0, len(cfg.Udfs))

	for _, uc := range cfg.Udfs {
		handle, err := loader.Load(uc.Name, uc.Config)
		if err != nil {
			for _, h := range udfs {
				h.Close()
			}

			return nil, err
		}

		udfs = append(udfs, handle)
	}

	log.Info().Int(lWorkers, maxWorkers).Int(lMaxJobs, maxJobs).
		Str(lEncoding, encType.String()).Msg("UDF manager configured")

	return &Manager{
		udfs:     udfs,
		encType:  encType,
		encLevel: encLevel,
		in:       in,
		out:      out,
		pool:     pool.New(maxWorkers, maxJobs),
		done:     make(chan struct{}),
	}, nil
}

// Start spawns the dispatch goroutine. Idempotent while running; a
// no-op after Stop().
func (m *Manager) Start() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.started || m.stop.Load() {
		log.Warn().Msg("start attempted after stop or after start")

		return
	}

	m.started = true

	go m.run()
}

// Stop halts dispatch, joins the dispatch goroutine, then stops the
// pool, letting in-flight frames finish. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stop.Store(true)

		m.stateMu.Lock()
		started := m.started
		m.stateMu.Unlock()

		if started {
			<-m.done
		}

		m.pool.Stop()
	})
}

// Close stops the manager, releases the UDF handles, and destroys both
// queues with any frames still in them.
func (m *Manager) Close() {
	m.Stop()

	for _, h := range m.udfs {
		h.Close()
	}

	m.udfs = nil

	for _, q := range []*FrameQueue{m.in, m.out} {
		q.Close()

		for {
			f, ok := q.Pop()
			if !ok {
				break
			}

			f.Close()
		}
	}
}

// applyEncodingPolicy aligns the frame's primary plane encoding with
// the manager's configured output encoding. A manager configured for no
// encoding leaves frames as they are.
func (m *Manager) applyEncodingPolicy(f *frame.Frame) {
	if m.encType == codec.EncodeNone {
		return
	}

	t, err := f.EncodeType(0)
	if err != nil {
		return // zero-plane frame; nothing to encode
	}

	lvl, _ := f.EncodeLevel(0)

	if t == m.encType && lvl == m.encLevel {
		return
	}

	if err := f.SetEncoding(m.encType, m.encLevel, 0); err != nil {
		log.Error().Err(err).Str(lEncoding, m.encType.String()).
			Msg("failed to apply output encoding")
	}
}

// run is the dispatch loop. It pops input frames in insertion order and
// submits one chain job per frame; completion order across frames is
// unspecified.
func (m *Manager) run() {
	log.Info().Msg("UDF manager dispatch started")

	defer close(m.done)

	for !m.stop.Load() {
		if !m.in.WaitFor(dispatchInterval) {
			continue
		}

		f, ok := m.in.Pop()
		if !ok {
			continue
		}

		m.applyEncodingPolicy(f)

		// Backpressure: retry until the pool accepts the job.
		for {
			handle := m.pool.Submit(func() { m.runChain(f) }, nil)
			if handle != nil {
				break
			}

			if m.stop.Load() {
				f.Close()

				break
			}

			time.Sleep(submitRetryInterval)
		}
	}

	log.Info().Msg("UDF manager dispatch stopped")
}

// runChain walks one frame through the UDF chain on a pool worker. The
// chain short-circuits on DropFrame and Error, destroying the frame;
// FrameModified is treated as Ok.
func (m *Manager) runChain(f *frame.Frame) {
	for _, h := range m.udfs {
		switch ret := h.Process(f); ret {
		case DropFrame:
			log.Debug().Str(lUDF, h.Name()).Msg("dropping frame")
			f.Close()

			return
		case Error:
			log.Error().Str(lUDF, h.Name()).Msg("failed to process frame")
			f.Close()

			return
		case Ok, FrameModified:
		default:
			log.Error().Str(lUDF, h.Name()).Stringer(lRetCode, ret).
				Msg("unexpected UDF return code")
			f.Close()

			return
		}
	}

	if err := m.out.Push(f); err != nil {
		if err := m.out.PushWait(f); err != nil {
			log.Error().Err(err).Msg("failed to enqueue processed frame, frame dropped")
			f.Close()
		}
	}
}
