// Package work defines the cooperative computations a task can run and the
// registry that resolves a work kind name to its implementation. Every kind is
// an explicit plan of discrete steps with a cancellation check-point at each
// step boundary.
package work
