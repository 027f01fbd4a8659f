// Package config loads, normalizes, and validates fieldq configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the outbox engine and the fieldqctl tool need: storage directories, the
// delivery endpoint, connectivity probing, and the retry policy.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical retry policy names, and clear validation errors.
package config
