// Package registry holds the named task groups, the task records inside them,
// and the current-group selection. It is safe for concurrent use: the command
// layer mutates it while workers update task records and the cancellation
// broadcast sweeps every token.
package registry
