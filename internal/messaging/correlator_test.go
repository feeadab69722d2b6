package messaging

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct{ ResponseBase }

func newTestResponse(correlationID uuid.UUID) testResponse {
	return testResponse{NewResponseBase(correlationID, 0)}
}

func TestCorrelatorInvokesCallbackAtMostOnce(t *testing.T) {
	c := NewCorrelator(zerolog.Nop())

	invoked := 0
	reqID := uuid.New()
	require.NoError(t, c.Register(reqID, func(Response) { invoked++ }))
	require.Equal(t, 1, c.PendingCount())

	resp := newTestResponse(reqID)
	assert.True(t, c.Resolve(resp))
	assert.False(t, c.Resolve(resp), "duplicate response must be dropped")
	assert.Equal(t, 1, invoked)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelatorDropsUnknownCorrelation(t *testing.T) {
	c := NewCorrelator(zerolog.Nop())
	assert.False(t, c.Resolve(newTestResponse(uuid.New())))
}

func TestCorrelatorAbandonSuppressesCallback(t *testing.T) {
	c := NewCorrelator(zerolog.Nop())

	invoked := false
	reqID := uuid.New()
	require.NoError(t, c.Register(reqID, func(Response) { invoked = true }))

	assert.True(t, c.Abandon(reqID))
	assert.False(t, c.Abandon(reqID))
	assert.False(t, c.Resolve(newTestResponse(reqID)))
	assert.False(t, invoked)
}

func TestCorrelatorRejectsDuplicateRegistration(t *testing.T) {
	c := NewCorrelator(zerolog.Nop())

	reqID := uuid.New()
	require.NoError(t, c.Register(reqID, func(Response) {}))
	assert.ErrorIs(t, c.Register(reqID, func(Response) {}), ErrDuplicateCorrelation)
}

func TestCorrelatorTrackSkipsNilCallback(t *testing.T) {
	c := NewCorrelator(zerolog.Nop())

	type testRequest struct{ RequestBase }
	require.NoError(t, c.Track(testRequest{NewRequestBase(0, nil)}))
	assert.Equal(t, 0, c.PendingCount())

	invoked := false
	tracked := testRequest{NewRequestBase(0, func(Response) { invoked = true })}
	require.NoError(t, c.Track(tracked))
	require.Equal(t, 1, c.PendingCount())

	assert.True(t, c.Resolve(newTestResponse(tracked.ID())))
	assert.True(t, invoked)
}

func TestCorrelatorCallbackMayRegisterFollowUp(t *testing.T) {
	c := NewCorrelator(zerolog.Nop())

	firstID := uuid.New()
	secondID := uuid.New()
	secondInvoked := false

	require.NoError(t, c.Register(firstID, func(Response) {
		// Continuations re-entering the correlator must not deadlock.
		assert.NoError(t, c.Register(secondID, func(Response) { secondInvoked = true }))
	}))

	assert.True(t, c.Resolve(newTestResponse(firstID)))
	assert.True(t, c.Resolve(newTestResponse(secondID)))
	assert.True(t, secondInvoked)
}
