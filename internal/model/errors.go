package model

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrContainerDiscovery = errors.New("container discovery failed")
	ErrExecution          = errors.New("command execution failed")
	ErrInvalidBackup      = errors.New("invalid backup")
	ErrCorruptArchive     = errors.New("corrupt archive")
	ErrCapacityExceeded   = errors.New("backup capacity exceeded")
	ErrInvalidRequest     = errors.New("invalid request")
)
