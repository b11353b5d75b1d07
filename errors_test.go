package outbound_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outbound "github.com/portgw/npac-outbound"
)

func TestConnectivityClassificationSurvivesWrapping(t *testing.T) {
	cause := fmt.Errorf("push to npac/MW/A123: %w", outbound.ErrConnectivityDown)
	assert.True(t, outbound.IsConnectivityDown(cause))

	wrapped := fmt.Errorf("cycle failed: %w", cause)
	assert.True(t, outbound.IsConnectivityDown(wrapped))

	assert.False(t, outbound.IsConnectivityDown(errors.New("malformed pdu")))
	assert.False(t, outbound.IsConnectivityDown(nil))
}

func TestQueueErrorKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &outbound.QueueError{Kind: outbound.KindUnexpected, Op: "dequeue"})

	var qerr *outbound.QueueError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, outbound.KindUnexpected, qerr.Kind)
	assert.Equal(t, "dequeue", qerr.Op)
	assert.False(t, outbound.IsConnectivityDown(err))
}

func TestQueueErrorConnectivityKindMatchesSentinel(t *testing.T) {
	err := &outbound.QueueError{Kind: outbound.KindConnectivity, Op: "push"}
	assert.ErrorIs(t, err, outbound.ErrConnectivityDown)
	assert.True(t, outbound.IsConnectivityDown(fmt.Errorf("worker: %w", err)))

	permanent := &outbound.QueueError{Kind: outbound.KindPermanent, Op: "push"}
	assert.NotErrorIs(t, permanent, outbound.ErrConnectivityDown)
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "connectivity", outbound.KindConnectivity.String())
	assert.Equal(t, "permanent", outbound.KindPermanent.String())
	assert.Equal(t, "config", outbound.KindConfig.String())
	assert.Equal(t, "unexpected", outbound.KindUnexpected.String())
}
