// Package configs provides the embedded configuration templates for docindex.
//
// Templates are embedded at build time so `docindex config init` works from
// any binary. Configuration precedence (see internal/config Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/docindex/config.yaml)
//  3. Project config (.docindex.yaml)
//  4. Environment variables (DOCINDEX_*)
package configs

import _ "embed"

// UserConfigTemplate is written by `docindex config init` to the user
// config path.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written by `docindex config init --project` to
// .docindex.yaml in the working directory.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
