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

// The udf-pipeline binary runs a UDF chain over still images: it watches
// a directory for PNG/JPEG files, feeds each one through the configured
// chain, and writes the serialized result envelopes to an output
// directory — a file-based stand-in for the surrounding message bus.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
	"github.com/TurbineOne/udf-pipeline/pkg/envelope"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
	"github.com/TurbineOne/udf-pipeline/pkg/pool"
	"github.com/TurbineOne/udf-pipeline/pkg/queue"
	"github.com/TurbineOne/udf-pipeline/pkg/udf"
	"github.com/TurbineOne/udf-pipeline/pkg/udf/udfs"
)

var log zerolog.Logger //nolint:gochecknoglobals // Don't care.

const scanInterval = time.Second

// ingestFile decodes one image file into a single-plane frame and queues
// it for the manager.
func ingestFile(path string, in *udf.FrameQueue) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	pixels, w, h, c, err := codec.Decode(data)
	if err != nil {
		return err
	}

	f := frame.New()
	if err := f.AddFrame(pixels, nil, w, h, c, codec.EncodeNone, 0); err != nil {
		f.Close()

		return err
	}

	env, err := f.Meta()
	if err == nil {
		_ = env.Put("source_file", envelope.NewString(filepath.Base(path)))
	}

	if err := in.PushWait(f); err != nil {
		f.Close()

		return err
	}

	return nil
}

// ingest scans the input directory for new images until the context ends.
func ingest(ctx context.Context, dir string, in *udf.FrameQueue) {
	seen := make(map[string]struct{})
	ticker := time.NewTicker(scanInterval)

	defer ticker.Stop()

	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("failed to read input dir")
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
				continue
			}

			if _, ok := seen[entry.Name()]; ok {
				continue
			}

			seen[entry.Name()] = struct{}{}

			path := filepath.Join(dir, entry.Name())
			if err := ingestFile(path, in); err != nil {
				log.Error().Err(err).Str("file", path).Msg("failed to ingest frame")

				continue
			}

			log.Info().Str("file", path).Msg("frame ingested")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// publish serializes one processed frame into a <handle>.json metadata
// file and a <handle>.bin blob file.
func publish(f *frame.Frame, dir string) error {
	handle, err := f.ImgHandle(0)
	if err != nil || handle == "" {
		handle = "frame"
	}

	env, err := f.Serialize()
	if err != nil {
		return err
	}

	defer env.Close()

	meta, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, handle+".json"), meta, 0o644); err != nil {
		return err
	}

	blobEl, err := env.Get(envelope.BlobKey)
	if err != nil {
		return nil // blobless frame; metadata only
	}

	var payload []byte

	if blob, err := blobEl.Blob(); err == nil {
		payload = blob.Bytes()
	} else if arr, err := blobEl.Array(); err == nil {
		for i := 0; i < arr.Len(); i++ {
			el, _ := arr.At(i)
			if blob, err := el.Blob(); err == nil {
				payload = append(payload, blob.Bytes()...)
			}
		}
	}

	return os.WriteFile(filepath.Join(dir, handle+".bin"), payload, 0o644)
}

// publishLoop drains the output queue until the context ends and the
// queue is empty.
func publishLoop(ctx context.Context, out *udf.FrameQueue, dir string) {
	for {
		if !out.WaitFor(250 * time.Millisecond) {
			select {
			case <-ctx.Done():
				if out.Empty() {
					return
				}
			default:
			}

			continue
		}

		f, ok := out.Pop()
		if !ok {
			continue
		}

		if err := publish(f, dir); err != nil {
			log.Error().Err(err).Msg("failed to publish frame")
			f.Close()
		}
	}
}

func main() {
	initConfig() // May early exit if config init fails.

	frame.SetLogger(log)
	udf.SetLogger(log)
	pool.SetLogger(log)
	udfs.SetLogger(log)

	pCfg := &currentConfig.Pipeline

	if err := os.MkdirAll(pCfg.OutputDir, 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create output dir")

		return
	}

	in := queue.New[*frame.Frame](pCfg.QueueSize)
	out := queue.New[*frame.Frame](pCfg.QueueSize)

	manager, err := udf.NewManager(pCfg.Manager, in, out)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize UDF manager")

		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager.Start()

	go publishLoop(ctx, out, pCfg.OutputDir)

	ingest(ctx, pCfg.InputDir, in)

	log.Info().Msg("shutting down")
	manager.Close()
}
