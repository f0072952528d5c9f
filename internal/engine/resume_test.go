package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedEngine struct {
	calls []Request
	queue []func(Request) (*Result, error)
}

func (s *scriptedEngine) Run(ctx context.Context, req Request) (*Result, error) {
	s.calls = append(s.calls, req)
	step := s.queue[0]
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}
	return step(req)
}

func TestSessionResumeRetriesOnceWithoutSession(t *testing.T) {
	inner := &scriptedEngine{queue: []func(Request) (*Result, error){
		func(req Request) (*Result, error) { return nil, ErrSessionExpired },
		func(req Request) (*Result, error) { return &Result{Text: "fresh", SessionID: "S2"}, nil },
	}}
	eng := WithSessionResume(inner)

	res, err := eng.Run(context.Background(), Request{Message: "hi", SessionID: "S1"})
	require.NoError(t, err)
	require.Equal(t, "fresh", res.Text)
	require.Len(t, inner.calls, 2)
	require.Equal(t, "S1", inner.calls[0].SessionID)
	require.Equal(t, "", inner.calls[1].SessionID)
}

func TestSessionResumeDoesNotRetryWithoutSessionID(t *testing.T) {
	inner := &scriptedEngine{queue: []func(Request) (*Result, error){
		func(req Request) (*Result, error) { return nil, ErrSessionExpired },
	}}
	eng := WithSessionResume(inner)

	_, err := eng.Run(context.Background(), Request{Message: "hi"})
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Len(t, inner.calls, 1)
}

func TestSessionResumePropagatesSecondFailure(t *testing.T) {
	boom := errors.New("engine down")
	inner := &scriptedEngine{queue: []func(Request) (*Result, error){
		func(req Request) (*Result, error) { return nil, ErrSessionExpired },
		func(req Request) (*Result, error) { return nil, boom },
	}}
	eng := WithSessionResume(inner)

	_, err := eng.Run(context.Background(), Request{Message: "hi", SessionID: "S1"})
	require.ErrorIs(t, err, boom)
	require.Len(t, inner.calls, 2)
}

func TestSessionResumePassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("bad request")
	inner := &scriptedEngine{queue: []func(Request) (*Result, error){
		func(req Request) (*Result, error) { return nil, boom },
	}}
	eng := WithSessionResume(inner)

	_, err := eng.Run(context.Background(), Request{Message: "hi", SessionID: "S1"})
	require.ErrorIs(t, err, boom)
	require.Len(t, inner.calls, 1)
}
