// Package process provides the runtime implementation that spawns and
// terminates local OS processes.
//
// Full process-tree termination is only guaranteed on Linux, where each child
// is started in its own process group and signals delivered to the negative
// group id reach every member. On Windows the runtime shells out to taskkill
// with the /T flag to walk the tree by process identifier, because interrupt
// signals cannot be trusted to stop grandchildren there. On macOS the group
// signal is best effort: processes that detach from the group must be cleaned
// up by the caller.
package process
