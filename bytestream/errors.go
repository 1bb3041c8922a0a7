package bytestream

import "errors"

// ErrClosed is returned by Push once the stream has been closed.
var ErrClosed = errors.New("bytestream: push to closed stream")

// ErrCapacityExceeded is returned by Push when data does not fit within
// the stream's available capacity.
var ErrCapacityExceeded = errors.New("bytestream: push exceeds available capacity")
