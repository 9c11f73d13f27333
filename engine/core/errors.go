package core

import (
	"errors"
)

var (
	ErrInvalidID                = errors.New("invalid id")
	ErrResourceCreation         = errors.New("resource creation failed")
	ErrSynchronizationViolation = errors.New("surface used across contexts without a signaled fence")
	ErrDeviceLost               = errors.New("device lost")
	ErrInvalidParameter         = errors.New("invalid parameter")
	ErrNotImplemented           = errors.New("not implemented")
	ErrNotLockable              = errors.New("object is not lockable")
	ErrFenceTimeout             = errors.New("fence did not signal in time")
	ErrWorkerClosed             = errors.New("platform worker closed")
	ErrUnknown                  = errors.New("unknown")
)
