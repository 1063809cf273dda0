package types

import "fmt"

// InvalidArgument occurs when a caller supplies an argument outside its
// documented domain.
type InvalidArgument string

func (err InvalidArgument) Error() string {
	return "invalid argument: " + string(err)
}

// OutOfRange occurs when an index or offset falls outside the bounds implied
// by a product's or chunk's metadata.
type OutOfRange string

func (err OutOfRange) Error() string {
	return "out of range: " + string(err)
}

// LogicError occurs when an invariant of this package is violated, e.g. a
// LatentChunk is drained twice.
type LogicError string

func (err LogicError) Error() string {
	return "logic error: " + string(err)
}

// RuntimeError occurs for a recoverable but unexpected condition, e.g. an
// unknown multicast message id.
type RuntimeError string

func (err RuntimeError) Error() string {
	return "runtime error: " + string(err)
}

// SystemError occurs when an underlying syscall fails.
type SystemError string

func (err SystemError) Error() string {
	return "system error: " + string(err)
}

// UnsupportedVersion occurs when a peer's negotiated protocol version
// doesn't match the local one.
type UnsupportedVersion uint32

func (err UnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported protocol version: %d", uint32(err))
}

// ShortMessage occurs when a message ends before a decoder's requested
// number of bytes are available.
type ShortMessage string

func (err ShortMessage) Error() string {
	return "short message: " + string(err)
}

// Canceled is the error kind for canceled work. The exec package does not
// use it: a canceled task's Result reports a LogicError instead.
type Canceled string

func (err Canceled) Error() string {
	return "canceled: " + string(err)
}

// Shutdown occurs when a caller submits work to an executor that has
// already been shut down.
type Shutdown string

func (err Shutdown) Error() string {
	return "shutdown: " + string(err)
}
