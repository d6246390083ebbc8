// Package launcher starts and supervises a group of local processes as a single
// failure-correlated unit.
//
// A driver launches every process of a demo with Launch, blocks in Wait until
// the first child exits, the run duration elapses or the context is cancelled,
// and then calls Kill from a deferred cleanup so no child outlives the driver.
// The aggregate return code is fixed by whichever of those events resolves
// first and is never overwritten afterwards.
//
// Output of all children is multiplexed from a single goroutine: stdout and
// stderr of each child share one non-blocking pipe (or pty master) and the
// wait loop polls the read ends with a bounded timeout, echoing every complete
// non-blank line as "[label] line".
//
// The package relies on POSIX process groups and poll(2) and is only built on
// Unix platforms. Killing a child signals its whole process group, so
// grandchildren spawned by a child are terminated with it.
package launcher
