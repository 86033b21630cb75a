package controller

import "github.com/qcryo/fridgectl/internal/errors"

const (
	// Link errors
	ErrLinkUnavailable   = errors.ErrLinkUnavailable
	ErrDeviceError       = errors.ErrDeviceError
	ErrInvalidCapability = errors.ErrInvalidCapability
	ErrLinkClosed        = errors.ErrorCode("controller_link_closed")

	// Transport errors
	ErrConnectFailed   = errors.ErrorCode("controller_connect_failed")
	ErrHandshakeFailed = errors.ErrorCode("controller_handshake_failed")
	ErrBadResponse     = errors.ErrorCode("controller_bad_response")

	// Operation errors
	ErrCloseTimeout = errors.ErrTimeout
)
