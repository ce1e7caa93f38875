// Package config loads barpath settings from a TOML file.
//
// Values not present in the file keep their defaults; command-line flags are
// applied on top by the caller.
package config
