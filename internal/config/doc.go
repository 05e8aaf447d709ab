// Package config loads the service environment and the tasks file.
//
// The environment comes from an optional .env file overlaid by the process
// environment. The tasks file is YAML; it is validated against an
// embedded CUE schema which also supplies per-task defaults, and its task
// order is preserved.
package config
