// Package config loads the FlowCoach process configuration from a YAML file
// with environment variable overrides.
package config
