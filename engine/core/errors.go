package core

import "errors"

var (
	ErrDeviceLost      = errors.New("device lost")
	ErrFenceTimeout    = errors.New("fence wait timed out")
	ErrAllocatorClosed = errors.New("allocator already torn down")
	ErrRendererClosed  = errors.New("renderer already shut down")
	ErrStaleReference  = errors.New("resource reference is stale or already released")
	ErrNotRecording    = errors.New("command recorder is not recording")
	ErrZeroExtent      = errors.New("framebuffer has a zero dimension")
	ErrNotHostVisible  = errors.New("buffer memory is not host visible")
	ErrOutOfRange      = errors.New("write exceeds buffer size")
	ErrInvalidConfig   = errors.New("invalid configuration")
)
