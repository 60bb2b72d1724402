package chatclient

import "errors"

var (
	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("chatclient: not connected")
	// ErrEmptyContent rejects a send whose content is blank.
	ErrEmptyContent = errors.New("chatclient: message content is empty")
	// ErrAuthRejected means the server refused the presented credential.
	ErrAuthRejected = errors.New("chatclient: authentication rejected")
	// ErrAckTimeout means the server did not acknowledge a send in time.
	ErrAckTimeout = errors.New("chatclient: acknowledgment timed out")
	// ErrRoomSuperseded means a newer OpenRoom call replaced this one
	// while its history fetch was in flight.
	ErrRoomSuperseded = errors.New("chatclient: room open superseded")
)
