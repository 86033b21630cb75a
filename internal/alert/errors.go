package alert

import "github.com/qcryo/fridgectl/internal/errors"

const (
	ErrInvalidRule   = errors.ErrorCode("alert_invalid_rule")
	ErrDuplicateRule = errors.ErrorCode("alert_duplicate_rule")
	ErrUnknownRule   = errors.ErrorCode("alert_unknown_rule")
	ErrNotRaised     = errors.ErrorCode("alert_not_raised")
)
