// Package catalog loads agent and workflow definitions from any location
// github.com/viant/afs can reach: local folders, mem:// for tests and
// cloud storage when the matching afs connector is imported.
package catalog
