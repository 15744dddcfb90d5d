// Package engine runs task groups. For each task of a group it starts a worker
// goroutine executing the task's work and a watcher goroutine enforcing the
// task's timeout through its cancellation token, then blocks on a barrier until
// every worker has reported. A Broadcaster sets every token in the registry in
// response to an interrupt, and an EventBroker streams task state changes to
// subscribers.
package engine
