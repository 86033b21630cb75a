package alert_test

import (
	"os"
	"testing"
	"time"

	"github.com/qcryo/fridgectl/internal/alert"
	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/qcryo/fridgectl/internal/event"
	"github.com/qcryo/fridgectl/internal/logger"
	"github.com/qcryo/fridgectl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init(false, false, true, "warning")
	os.Exit(m.Run())
}

func mcTempRule() alert.Rule {
	return alert.Rule{
		Name:       "mc-temp-high",
		Channel:    "mixing-chamber-temp",
		Operator:   alert.OperatorGreater,
		Threshold:  0.050,
		Severity:   alert.SeverityHigh,
		Hysteresis: 0.002,
	}
}

func sample(value float64, seq uint64) telemetry.Sample {
	return telemetry.Sample{
		ControllerID: "fridge-1",
		Channel:      "mixing-chamber-temp",
		Value:        value,
		Unit:         "K",
		Timestamp:    time.Now(),
		Seq:          seq,
	}
}

func status(t *testing.T, e *alert.Engine, rule string) alert.Status {
	t.Helper()
	for _, st := range e.States() {
		if st.Rule.Name == rule {
			return st.Status
		}
	}
	t.Fatalf("no state for rule %q", rule)
	return alert.StatusClear
}

func TestHysteresisGuardedClearing(t *testing.T) {
	e, err := alert.NewEngine([]alert.Rule{mcTempRule()}, nil)
	require.NoError(t, err)
	defer e.Close()

	e.Evaluate(sample(0.048, 1))
	assert.Equal(t, alert.StatusClear, status(t, e, "mc-temp-high"), "below threshold stays clear")

	e.Evaluate(sample(0.052, 2))
	assert.Equal(t, alert.StatusRaised, status(t, e, "mc-temp-high"), "crossing threshold raises")

	e.Evaluate(sample(0.049, 3))
	assert.Equal(t, alert.StatusRaised, status(t, e, "mc-temp-high"),
		"0.049 is within hysteresis of 0.050, stays raised")

	e.Evaluate(sample(0.045, 4))
	assert.Equal(t, alert.StatusClear, status(t, e, "mc-temp-high"),
		"below threshold minus hysteresis clears")
}

func TestRisingEdgeHasNoHysteresis(t *testing.T) {
	e, err := alert.NewEngine([]alert.Rule{mcTempRule()}, nil)
	require.NoError(t, err)
	defer e.Close()

	e.Evaluate(sample(0.0501, 1))
	assert.Equal(t, alert.StatusRaised, status(t, e, "mc-temp-high"),
		"any value past the threshold raises immediately")
}

func TestAcknowledgeLifecycle(t *testing.T) {
	e, err := alert.NewEngine([]alert.Rule{mcTempRule()}, nil)
	require.NoError(t, err)
	defer e.Close()

	err = e.Acknowledge("mc-temp-high")
	require.Error(t, err, "cannot acknowledge a clear alert")
	assert.True(t, errors.HasCode(err, alert.ErrNotRaised))

	e.Evaluate(sample(0.060, 1))
	require.NoError(t, e.Acknowledge("mc-temp-high"))
	assert.Equal(t, alert.StatusAcknowledged, status(t, e, "mc-temp-high"))

	e.Evaluate(sample(0.049, 2))
	assert.Equal(t, alert.StatusAcknowledged, status(t, e, "mc-temp-high"),
		"acknowledged follows the same hysteresis guard")

	e.Evaluate(sample(0.045, 3))
	assert.Equal(t, alert.StatusClear, status(t, e, "mc-temp-high"))
}

func TestAcknowledgeUnknownRule(t *testing.T) {
	e, err := alert.NewEngine([]alert.Rule{mcTempRule()}, nil)
	require.NoError(t, err)
	defer e.Close()

	err = e.Acknowledge("no-such-rule")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, alert.ErrUnknownRule))
}

func TestEveryRuleHasState(t *testing.T) {
	rules := []alert.Rule{
		mcTempRule(),
		{
			Name:      "still-temp-low",
			Channel:   "still-temp",
			Operator:  alert.OperatorLess,
			Threshold: 0.500,
			Severity:  alert.SeverityWarning,
		},
	}

	e, err := alert.NewEngine(rules, nil)
	require.NoError(t, err)
	defer e.Close()

	states := e.States()
	require.Len(t, states, len(rules))
	for _, st := range states {
		assert.Equal(t, alert.StatusClear, st.Status)
	}
}

func TestTransitionsArePublished(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	e, err := alert.NewEngine([]alert.Rule{mcTempRule()}, bus)
	require.NoError(t, err)
	defer e.Close()

	e.Submit(sample(0.060, 1))

	select {
	case ev := <-sub:
		require.Equal(t, event.TypeAlert, ev.Type)
		tr, ok := ev.Payload.(event.AlertTransition)
		require.True(t, ok)
		assert.Equal(t, "mc-temp-high", tr.Rule)
		assert.Equal(t, "clear", tr.From)
		assert.Equal(t, "raised", tr.To)
		assert.Equal(t, "fridge-1", tr.ControllerID)
	case <-time.After(time.Second):
		t.Fatal("no alert transition published")
	}
}

func TestRejectsInvalidRules(t *testing.T) {
	bad := mcTempRule()
	bad.Operator = "~"
	_, err := alert.NewEngine([]alert.Rule{bad}, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, alert.ErrInvalidRule))

	dup := mcTempRule()
	_, err = alert.NewEngine([]alert.Rule{mcTempRule(), dup}, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, alert.ErrDuplicateRule))
}
