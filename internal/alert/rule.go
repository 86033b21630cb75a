package alert

import "github.com/qcryo/fridgectl/internal/errors"

// Operator is the comparison applied between a sample value and the rule
// threshold.
type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorLess           Operator = "<"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLessOrEqual    Operator = "<="
	OperatorEqual          Operator = "=="
	OperatorNotEqual       Operator = "!="
)

// Valid reports whether the operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorLess, OperatorGreaterOrEqual,
		OperatorLessOrEqual, OperatorEqual, OperatorNotEqual:
		return true
	default:
		return false
	}
}

// holds reports whether the comparison is satisfied.
func (o Operator) holds(value, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return value > threshold
	case OperatorLess:
		return value < threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLessOrEqual:
		return value <= threshold
	case OperatorEqual:
		return value == threshold
	case OperatorNotEqual:
		return value != threshold
	default:
		return false
	}
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rule is one static, operator-defined alert condition. The engine never
// mutates rules, only the derived states.
type Rule struct {
	Name       string
	Channel    string
	Operator   Operator
	Threshold  float64
	Severity   Severity
	Hysteresis float64
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	errFactory := errors.New()

	if r.Name == "" {
		return errFactory.WithData(ErrInvalidRule, "empty name")
	}
	if r.Channel == "" {
		return errFactory.WithData(ErrInvalidRule, "empty channel")
	}
	if !r.Operator.Valid() {
		return errFactory.WithData(ErrInvalidRule, struct {
			Rule     string
			Operator string
		}{r.Name, string(r.Operator)})
	}
	if !r.Severity.Valid() {
		return errFactory.WithData(ErrInvalidRule, struct {
			Rule     string
			Severity string
		}{r.Name, string(r.Severity)})
	}
	if r.Hysteresis < 0 {
		return errFactory.WithData(ErrInvalidRule, "negative hysteresis")
	}

	return nil
}

// clears reports whether the comparison fails by at least the hysteresis
// margin. Raising has no margin: an alert fires at the threshold and only
// clears once the value has moved a full margin past it.
func (r Rule) clears(value float64) bool {
	switch r.Operator {
	case OperatorGreater:
		return value <= r.Threshold-r.Hysteresis
	case OperatorGreaterOrEqual:
		return value < r.Threshold-r.Hysteresis
	case OperatorLess:
		return value >= r.Threshold+r.Hysteresis
	case OperatorLessOrEqual:
		return value > r.Threshold+r.Hysteresis
	case OperatorEqual:
		diff := value - r.Threshold
		if diff < 0 {
			diff = -diff
		}
		return diff >= r.Hysteresis && value != r.Threshold
	case OperatorNotEqual:
		return value == r.Threshold
	default:
		return false
	}
}
