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

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TurbineOne/udf-pipeline/pkg/config"
	"github.com/TurbineOne/udf-pipeline/pkg/logger"
	"github.com/TurbineOne/udf-pipeline/pkg/udf"
)

const (
	configFileName = "config.yaml"

	// envPrefix namespaces the pipeline's environment variables, e.g.
	// $UDF_LOG_LEVEL.
	envPrefix = "UDF_"

	defaultQueueSize = 20
)

//nolint:gochecknoglobals // Needed for makefile injection.
var (
	// Version is provided by the makefile.
	Version = "v0"
	// Revision is a git tag provided by the makefile.
	Revision = "0"
	// Created is a date provided by the makefile.
	Created = "0000-00-00"
)

// pipelineConfig configures the demo pipeline around the UDF manager.
type pipelineConfig struct { //nolint:govet // Don't care about alignment.
	InputDir  string `yaml:"input_dir" json:"input_dir" doc:"Directory watched for PNG/JPEG frames"`
	OutputDir string `yaml:"output_dir" json:"output_dir" doc:"Directory for serialized output envelopes"`
	QueueSize int    `yaml:"queue_size" json:"queue_size" doc:"Input/output frame queue bound"`

	Manager udf.ManagerConfig `yaml:"manager" json:"manager"`
}

func pipelineConfigDefault() pipelineConfig {
	return pipelineConfig{
		InputDir:  "input",
		OutputDir: "output",
		QueueSize: defaultQueueSize,
		Manager:   udf.ManagerConfigDefault(),
	}
}

// mainConfig is the master config for the executable.
type mainConfig struct { //nolint:govet // Don't care about alignment.
	Pipeline pipelineConfig `yaml:"pipeline"`
	Logger   logger.Config  `yaml:"logger"`
}

var currentConfig = mainConfig{ //nolint:gochecknoglobals  // Static config
	Pipeline: pipelineConfigDefault(),
	Logger:   logger.ConfigDefault(),
}

// initConfig layers the environment and config.yaml over the defaults,
// then brings up the logger. A missing config file is a warning;
// anything else exits before the pipeline can start half-configured.
func initConfig() {
	err := config.Init(configFileName, envPrefix, &currentConfig)

	ncError := &config.NoConfigError{}

	switch {
	case err == nil, errors.As(err, &ncError):
	default:
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	log = logger.New(&currentConfig.Logger)

	log.Info().Str("version", Version).Str("revision", Revision).Str("created", Created).
		Msg(filepath.Base(os.Args[0]))
	log.Info().Interface("config", &currentConfig).Msg("effective config")

	// If there was no config file, we log it here, after the logger
	// exists to say it.
	if err != nil {
		log.Info().Msg(err.Error())
	}
}
