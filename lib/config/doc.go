// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads tandem's configuration.
//
// Exactly one file is read, named by the --config flag or the
// TANDEM_CONFIG environment variable. Nothing is discovered
// implicitly. Files ending in .json or .jsonc are JSON with comments;
// everything else is YAML. Both use the same field names.
//
// A file may carry development and production sections whose set
// fields override the base values when the environment matches.
// ${HOME}, ${XDG_RUNTIME_DIR} and ${VAR:-default} are expanded in
// paths after overrides are applied.
package config
