// Package testutil contains helpers used across tests to reduce boilerplate
// when building agents, clocks and recording stores. They are not intended
// for production usage.
package testutil
