package alerting

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func TestEvaluateThreshold(t *testing.T) {
	var fired []Alert
	hook := func(_ context.Context, a Alert) error {
		fired = append(fired, a)
		return nil
	}
	e, err := NewEvaluator(Config{CriticalThreshold: 70}, utils.DiscardLogger(), hook)
	require.NoError(t, err)

	_, ok := e.Evaluate(context.Background(), Input{Score: 70, Rating: "Stable"})
	assert.False(t, ok, "score at threshold must not alert")
	assert.Empty(t, fired)

	alert, ok := e.Evaluate(context.Background(), Input{RunID: "r1", Score: 55, Rating: "Needs Work"})
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Len(t, fired, 1)
	assert.Equal(t, "r1", fired[0].RunID)
}

func TestEvaluateCondition(t *testing.T) {
	e, err := NewEvaluator(Config{Condition: "hasPrior && scoreDelta <= -10"}, utils.DiscardLogger())
	require.NoError(t, err)

	_, ok := e.Evaluate(context.Background(), Input{Score: 85, Comparison: models.Comparison{HasPrior: true, ScoreDelta: -3}})
	assert.False(t, ok)

	alert, ok := e.Evaluate(context.Background(), Input{Score: 80, Comparison: models.Comparison{HasPrior: true, ScoreDelta: -12}})
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Contains(t, alert.Reasons[0], "condition matched")
}

func TestInvalidConditionRejected(t *testing.T) {
	_, err := NewEvaluator(Config{Condition: "score +"}, nil)
	require.Error(t, err)

	_, err = NewEvaluator(Config{Condition: "score"}, nil)
	require.Error(t, err, "non-boolean condition must be rejected")
}

func TestHookErrorsDoNotStopDelivery(t *testing.T) {
	calls := 0
	failing := func(context.Context, Alert) error { calls++; return errors.New("webhook down") }
	counting := func(context.Context, Alert) error { calls++; return nil }

	e, err := NewEvaluator(Config{CriticalThreshold: 90}, utils.DiscardLogger(), failing)
	require.NoError(t, err)
	e.AddHook(counting)
	e.AddHook(LogHook(utils.DiscardLogger()))

	_, ok := e.Evaluate(context.Background(), Input{Score: 10})
	require.True(t, ok)
	assert.Equal(t, 2, calls)
}
