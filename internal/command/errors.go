package command

import "github.com/qcryo/fridgectl/internal/errors"

const (
	ErrUnknownController = errors.ErrorCode("command_unknown_controller")
	ErrInvalidCapability = errors.ErrInvalidCapability
	ErrDispatcherClosed  = errors.ErrorCode("command_dispatcher_closed")
)
