package impl

import "fmt"

// AlreadyRunningError occurs when Start is called on a Peer whose receiver
// loop is already running.
type AlreadyRunningError struct{}

func (err AlreadyRunningError) Error() string {
	return "can't start peer: receiver already running"
}

// NotRunningError occurs when Stop is called on a Peer whose receiver loop
// isn't running.
type NotRunningError struct{}

func (err NotRunningError) Error() string {
	return "can't stop peer: receiver not running"
}

// UnknownStreamError occurs when the receiver loop finds a message on a
// stream it does not dispatch, such as StreamVersion after the handshake.
type UnknownStreamError uint8

func (err UnknownStreamError) Error() string {
	return fmt.Sprintf("unknown stream id %d in received message", uint8(err))
}
