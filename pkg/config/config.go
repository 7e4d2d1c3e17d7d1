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

// Package config fills pipeline config structs in layers: caller
// defaults first, then environment variables, then the YAML config
// file. The file wins so a deployment can pin its chain regardless of
// the environment it inherits.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// NoConfigError indicates that we couldn't find a config file.
// This is usually OK and should be treated as a warning.
type NoConfigError struct {
	Path string
}

func (e *NoConfigError) Error() string {
	return "cannot find config file [" + e.Path + "], continuing with defaults"
}

// Init initializes 'out' from the environment and the YAML file at
// 'path'. 'out' should arrive pre-populated with defaults.
//
// The 'envPrefix' is prefixed to the names of any environment variables
// we look for, so with prefix "UDF_" an `env:"LOG_LEVEL"` tag reads
// $UDF_LOG_LEVEL.
//
// A NoConfigError return means the file was absent and the
// defaults-plus-environment result is in effect; callers usually log it
// and carry on.
func Init(path string, envPrefix string, out interface{}) error {
	if err := env.Parse(out, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("config failed to parse environment: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return &NoConfigError{path}
	}

	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to parse config file [%s]: %w", path, err)
	}

	return nil
}
