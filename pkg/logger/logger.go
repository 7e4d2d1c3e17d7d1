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

// Package logger builds the root zerolog logger for the pipeline.
// Packages derive their own loggers from it via their SetLogger hooks,
// tagging records with a "pkg" field.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// consoleTimeFormat omits the timezone; console output is for humans at
// the keyboard, structured output keeps RFC3339Nano.
const consoleTimeFormat = "2006-01-02T15:04:05.000000"

func init() {
	// Users of our logging will always adhere to these global settings:
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldInteger = false
	zerolog.DurationFieldUnit = time.Second
}

// Config configures the logger.
type Config struct { //nolint:govet // Don't care about alignment.
	Level   string `yaml:"level" json:"level" env:"LOG_LEVEL" doc:"Log level. One of: trace, debug, info, warn, error, fatal, panic"`
	Console bool   `yaml:"console" json:"console" doc:"Logging includes terminal colors"`
}

// ConfigDefault returns the default values for a Config.
func ConfigDefault() Config {
	return Config{
		Level:   zerolog.InfoLevel.String(),
		Console: false,
	}
}

// New returns the root logger described by the config. Output goes to
// stdout: colorized console format when a tty is detected or forced by
// the config, plain structured JSON otherwise (the docker case).
// Panics on an invalid level, since nothing downstream can run without
// a logger.
func New(c *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		panic(err.Error())
	}

	var out io.Writer = os.Stdout

	if c.Console || isatty.IsTerminal(os.Stdout.Fd()) {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: consoleTimeFormat,
		}
	}

	return zerolog.New(out).
		Level(level).
		With().Timestamp().Caller().
		Logger()
}
