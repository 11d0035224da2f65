// Package workflow implements Temporal workflow definitions for prompt
// execution.
//
// Workflows must stay deterministic: no random numbers, wall-clock reads or
// external I/O. Template rendering and model calls run inside activities.
package workflow
