// Package shell implements the interactive line interface: operators create
// and select groups, add tasks to the current group, run it, and inspect
// status, summaries and run history. Interrupts received while the shell is
// up are forwarded to the broadcaster and cancel every task without exiting.
package shell
