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

// Package udfs provides the built-in sample UDFs. Importing the package
// registers them with the loader:
//
//	dummy    - native pass-through, logs each frame
//	rawdummy - raw pass-through, stamps the frame count into the metadata
//	resize   - native nearest-neighbor resize of the primary plane
package udfs

import (
	"github.com/rs/zerolog"
)

//nolint:gochecknoglobals // allows logging from non-method funcs
var log = zerolog.Nop()

// SetLogger installs the package logger.
func SetLogger(logger zerolog.Logger) {
	log = logger.With().Str("pkg", "udfs").Logger()
}

// cfgInt reads an integer UDF config value, tolerating YAML's and
// JSON's numeric decodings.
func cfgInt(config map[string]interface{}, key string, def int) int {
	v, ok := config[key]
	if !ok {
		return def
	}

	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
