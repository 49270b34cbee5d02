package ralph

import "errors"

// Sentinel errors so callers can errors.Is/As across the toolkit -> loop ->
// runner boundary instead of matching on string content.
var (
	// ErrPathEscapesWorkingDir is returned when a tool's resolved path
	// canonicalizes outside the task's working directory.
	ErrPathEscapesWorkingDir = errors.New("ralph: path escapes working directory")

	// ErrCommandDenied is returned when a shell command matches the
	// toolkit's denylist.
	ErrCommandDenied = errors.New("ralph: command denied")

	// ErrUnknownTool is returned for a tool name outside the fixed catalog.
	ErrUnknownTool = errors.New("ralph: unknown tool")

	// ErrUnknownTask is returned by the TaskRunner for an unrecognized id.
	ErrUnknownTask = errors.New("ralph: unknown task")

	// ErrTaskAlreadyTerminal is returned when cancelling a finished task.
	ErrTaskAlreadyTerminal = errors.New("ralph: task already terminal")

	// ErrWaitTimeout is returned when TaskRunner.Wait's context deadline
	// elapses before the task reaches a terminal status.
	ErrWaitTimeout = errors.New("ralph: wait timed out")
)
