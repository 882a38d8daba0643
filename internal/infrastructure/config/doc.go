// Package config provides configuration loading for Mirror Core.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by MIRROR_* environment variables. The result is
// validated before use; an invalid configuration fails startup rather than
// surfacing later as a half-working runtime.
//
// The storage section selects exactly one persistence engine per process
// (sqlite, postgres, or mysql). The bus and history sections are optional:
// a disabled bus falls back to the in-process implementation, and a
// disabled history recorder is simply not constructed.
package config
