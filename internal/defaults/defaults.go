// Package defaults provides embedded copies of the example config and
// starter skill for the montage init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// SkillMD is a starter SKILL.md written into the skills directory so
// a fresh install has one working example to copy from.
//
//go:embed skill.example.md
var SkillMD []byte
