// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the benchlink configuration file.
//
// Configuration is loaded from a single file named by either the
// BENCHLINK_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no fallback search, so
// the configuration in effect is always the one file that was named.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas allowed; anything else is read as YAML.
//
// Path fields are expanded after loading: ${HOME}, ${BENCHLINK_ROOT}
// and ${VAR:-default} patterns. No other environment variables
// override config values.
//
// Key exports:
//
//   - [Config] -- instruments, timing, activity, relay, state, metrics
//   - [Default] -- a Config holding every default
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other benchlink packages.
package config
