package session

import "errors"

// ErrRecorderIo names a disk-full/permission failure while appending to the
// JSONL file. Nothing in this package returns it: the recorder's writer logs
// write and flush failures and keeps draining its queue.
var ErrRecorderIo = errors.New("session: recorder io failure")

// ErrNotRecording names an operation on a recording that was never opened
// for writing. Nothing in this package returns it.
var ErrNotRecording = errors.New("session: no active recording")
