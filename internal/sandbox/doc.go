// Package sandbox runs external analysis tools against a code artifact.
//
// Every invocation gets its own freshly created directory under the runner's
// base directory. The artifact is written there, the tool runs with that
// directory as its working directory, and the directory is removed on every
// exit path. Concurrent invocations therefore never share a path.
//
// A tool that outlives its timeout is killed together with its process group
// and reported with Result.TimedOut set; it is not an error. A tool that cannot
// be started at all is reported as ErrToolUnavailable.
package sandbox
