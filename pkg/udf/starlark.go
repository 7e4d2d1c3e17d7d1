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
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/TurbineOne/udf-pipeline/pkg/envelope"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
)

// scriptExt is the file extension of scripted UDF modules.
const scriptExt = ".star"

// Environment variables consumed by the scripting runtime.
const (
	DevModeEnv        = "DEV_MODE"
	ScriptLogLevelEnv = "SCRIPT_LOG_LEVEL"
)

// scriptMu is the process-global runtime lock. Every entry into the
// scripting runtime — module load, process calls, value construction,
// and handle teardown — holds it.
//
//nolint:gochecknoglobals // single-owner runtime resource
var scriptMu sync.Mutex

// planeValue is the 3-D (height, width, channels) uint8 array view of
// one plane, exposed to scripts. Values are immutable from script code;
// a UDF modifies a frame by returning freshly built planes.
type planeValue struct {
	width    int
	height   int
	channels int
	pixels   []byte
}

var _ starlark.HasAttrs = (*planeValue)(nil)

func (p *planeValue) String() string {
	return fmt.Sprintf("plane(%dx%dx%d)", p.height, p.width, p.channels)
}

func (p *planeValue) Type() string { return "plane" }

func (p *planeValue) Freeze() {}

func (p *planeValue) Truth() starlark.Bool { return starlark.True }

func (p *planeValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: plane")
}

func (p *planeValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "width":
		return starlark.MakeInt(p.width), nil
	case "height":
		return starlark.MakeInt(p.height), nil
	case "channels":
		return starlark.MakeInt(p.channels), nil
	case "shape":
		return starlark.Tuple{
			starlark.MakeInt(p.height),
			starlark.MakeInt(p.width),
			starlark.MakeInt(p.channels),
		}, nil
	case "data":
		return starlark.Bytes(p.pixels), nil
	default:
		return nil, nil // no such attribute
	}
}

func (p *planeValue) AttrNames() []string {
	return []string{"channels", "data", "height", "shape", "width"}
}

// planeBuiltin is the predeclared plane(width, height, channels, data)
// constructor available to scripts.
func planeBuiltin(_ *starlark.Thread, b *starlark.Builtin,
	args starlark.Tuple, kwargs []starlark.Tuple,
) (starlark.Value, error) {
	var (
		width, height, channels int
		data                    starlark.Value
	)

	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"width", &width, "height", &height, "channels", &channels,
		"data", &data); err != nil {
		return nil, err
	}

	var pixels []byte

	switch d := data.(type) {
	case starlark.Bytes:
		pixels = []byte(d)
	case starlark.String:
		pixels = []byte(d)
	default:
		return nil, fmt.Errorf("plane: data must be bytes or string, got %s", data.Type())
	}

	if len(pixels) != width*height*channels {
		return nil, fmt.Errorf("plane: %d data bytes for %dx%dx%d plane",
			len(pixels), width, height, channels)
	}

	return &planeValue{
		width:    width,
		height:   height,
		channels: channels,
		pixels:   pixels,
	}, nil
}

// configToStarlark converts an open-shape config value for script use.
func configToStarlark(v interface{}) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case []interface{}:
		items := make([]starlark.Value, len(val))
		for i, item := range val {
			items[i] = configToStarlark(item)
		}

		return starlark.NewList(items)
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			_ = dict.SetKey(starlark.String(k), configToStarlark(item))
		}

		return dict
	default:
		return starlark.String(fmt.Sprint(val))
	}
}

// metaToDict snapshots the envelope's scalar keys for script use.
func metaToDict(env *envelope.Envelope) *starlark.Dict {
	keys := env.Keys()
	dict := starlark.NewDict(len(keys))

	for _, key := range keys {
		el, err := env.Get(key)
		if err != nil {
			continue
		}

		var v starlark.Value

		switch el.Type() {
		case envelope.TypeInt:
			i, _ := el.Int()
			v = starlark.MakeInt64(i)
		case envelope.TypeFloat:
			f, _ := el.Float()
			v = starlark.Float(f)
		case envelope.TypeString:
			s, _ := el.String()
			v = starlark.String(s)
		case envelope.TypeBool:
			b, _ := el.Bool()
			v = starlark.Bool(b)
		default:
			continue // nested and blob elements stay out of script reach
		}

		_ = dict.SetKey(starlark.String(key), v)
	}

	return dict
}

// mergeMeta writes script-returned metadata scalars back into the
// envelope, replacing existing keys.
func mergeMeta(env *envelope.Envelope, dict *starlark.Dict) {
	for _, item := range dict.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			continue
		}

		var el *envelope.Element

		switch v := item[1].(type) {
		case starlark.Bool:
			el = envelope.NewBool(bool(v))
		case starlark.Int:
			i, _ := v.Int64()
			el = envelope.NewInt(i)
		case starlark.Float:
			el = envelope.NewFloat(float64(v))
		case starlark.String:
			el = envelope.NewString(string(v))
		default:
			continue
		}

		_ = env.Remove(key)
		_ = env.Put(key, el)
	}
}

// scriptedHandle runs a UDF implemented as a Starlark module. The module
// must define process(frames, meta) returning a (drop, output, meta)
// tuple, mirroring the scripted contract; an optional module-level
// init(config) runs once at Initialize().
type scriptedHandle struct {
	name string
	path string

	thread      *starlark.Thread
	processFn   starlark.Callable
	initFn      starlark.Callable // may be nil
	initialized bool
}

// scriptPrintLevel resolves the log level for script print() output
// from the runtime environment variables.
func scriptPrintLevel() zerolog.Level {
	if lvl, err := zerolog.ParseLevel(os.Getenv(ScriptLogLevelEnv)); err == nil &&
		os.Getenv(ScriptLogLevelEnv) != "" {
		return lvl
	}

	if os.Getenv(DevModeEnv) == "true" {
		return zerolog.InfoLevel
	}

	return zerolog.DebugLevel
}

// newScriptedHandle loads and executes the module file, resolving its
// process function.
func newScriptedHandle(name, path string) (*scriptedHandle, error) {
	scriptMu.Lock()
	defer scriptMu.Unlock()

	printLevel := scriptPrintLevel()

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			log.WithLevel(printLevel).Str(lUDF, name).Msg(msg)
		},
	}

	predeclared := starlark.StringDict{
		"plane": starlark.NewBuiltin("plane", planeBuiltin),
	}

	// The module's globals are left unfrozen so init(config) can keep
	// settings in module-level state for later process() calls.
	_, prog, err := starlark.SourceProgramOptions(syntax.LegacyFileOptions(),
		path, nil, predeclared.Has)
	if err != nil {
		return nil, fmt.Errorf("failed to execute scripted module: %w", err)
	}

	globals, err := prog.Init(thread, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to execute scripted module: %w", err)
	}

	processFn, ok := globals["process"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("scripted module %q does not define process()", name)
	}

	h := &scriptedHandle{
		name:      name,
		path:      path,
		thread:    thread,
		processFn: processFn,
	}

	if initFn, ok := globals["init"].(starlark.Callable); ok {
		h.initFn = initFn
	}

	return h, nil
}

func (h *scriptedHandle) Name() string {
	return h.name
}

// Initialize runs the module's optional init(config). One-shot.
func (h *scriptedHandle) Initialize(config Config) error {
	if h.initialized {
		return &AlreadyInitializedError{h.name}
	}

	h.initialized = true

	if h.initFn == nil {
		return nil
	}

	scriptMu.Lock()
	defer scriptMu.Unlock()

	cfg := configToStarlark(map[string]interface{}(config))

	if _, err := starlark.Call(h.thread, h.initFn, starlark.Tuple{cfg}, nil); err != nil {
		return fmt.Errorf("scripted init() failed: %w", err)
	}

	return nil
}

// planeViews builds the script input: one plane view for single-plane
// frames, an ordered list of views otherwise.
func planeViews(f *frame.Frame) (starlark.Value, []*planeValue, error) {
	n := f.NumFrames()
	views := make([]*planeValue, n)

	for i := 0; i < n; i++ {
		w, err := f.Width(i)
		if err != nil {
			return nil, nil, err
		}

		ht, _ := f.Height(i)
		c, _ := f.Channels(i)

		pixels, err := f.Data(i)
		if err != nil {
			return nil, nil, err
		}

		views[i] = &planeValue{width: w, height: ht, channels: c, pixels: pixels}
	}

	if n == 1 {
		return views[0], views, nil
	}

	items := make([]starlark.Value, n)
	for i, v := range views {
		items[i] = v
	}

	return starlark.NewList(items), views, nil
}

// applyOutput swaps script-returned planes into the frame. Returns an
// error for anything that isn't a 3-D plane value.
func (h *scriptedHandle) applyOutput(f *frame.Frame, output starlark.Value) error {
	setPlane := func(i int, v starlark.Value) error {
		p, ok := v.(*planeValue)
		if !ok {
			return fmt.Errorf("scripted output must be a 3-D plane, got %s", v.Type())
		}

		return f.SetData(i, p.pixels, nil, p.width, p.height, p.channels)
	}

	if list, ok := output.(*starlark.List); ok {
		for i := 0; i < list.Len(); i++ {
			if err := setPlane(i, list.Index(i)); err != nil {
				return err
			}
		}

		return nil
	}

	return setPlane(0, output)
}

// Process passes the frame's planes and metadata to the script and
// applies its verdict.
func (h *scriptedHandle) Process(f *frame.Frame) RetCode {
	scriptMu.Lock()
	defer scriptMu.Unlock()

	input, _, err := planeViews(f)
	if err != nil {
		log.Error().Err(err).Str(lUDF, h.name).Msg("cannot view frame for script")

		return Error
	}

	env, err := f.Meta()
	if err != nil {
		log.Error().Err(err).Str(lUDF, h.name).Msg("cannot view frame meta-data")

		return Error
	}

	res, err := starlark.Call(h.thread, h.processFn,
		starlark.Tuple{input, metaToDict(env)}, nil)
	if err != nil {
		log.Error().Err(err).Str(lUDF, h.name).Msg("error in scripted process()")

		return Error
	}

	tuple, ok := res.(starlark.Tuple)
	if !ok || len(tuple) != 3 {
		log.Error().Str(lUDF, h.name).
			Msg("scripted process() must return (drop, output, meta)")

		return Error
	}

	drop, output, newMeta := tuple[0], tuple[1], tuple[2]

	if bool(drop.Truth()) {
		return DropFrame
	}

	if dict, ok := newMeta.(*starlark.Dict); ok {
		mergeMeta(env, dict)
	}

	// Returning the input object (or None) means no pixel modification.
	if output == starlark.None || output == input {
		return Ok
	}

	if err := h.applyOutput(f, output); err != nil {
		log.Error().Err(err).Str(lUDF, h.name).Msg("failed to apply scripted output")

		return Error
	}

	return FrameModified
}

// Close drops the runtime references.
func (h *scriptedHandle) Close() {
	scriptMu.Lock()
	defer scriptMu.Unlock()

	h.processFn = nil
	h.initFn = nil
	h.thread = nil
}
