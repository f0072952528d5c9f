package engine

import (
	"context"
	"errors"
)

// resumingEngine wraps any session-aware Engine with the session-resume
// rule: when a provided SessionID turns out to be
// unresumable (expired, evicted), retry exactly once with the session
// cleared, then propagate whatever happens. Keeping the retry here, not
// in the Runner, keeps the Runner trivially mockable and isolates this
// one provider quirk at the adapter boundary.
type resumingEngine struct {
	inner Engine
}

// WithSessionResume decorates inner with the retry-once-on-expired-session
// behavior. Engines that never populate or consume SessionID (the
// stateless Anthropic adapter) pass through unchanged in practice, since
// they never return ErrSessionExpired.
func WithSessionResume(inner Engine) Engine {
	return &resumingEngine{inner: inner}
}

func (e *resumingEngine) Run(ctx context.Context, req Request) (*Result, error) {
	res, err := e.inner.Run(ctx, req)
	if err == nil || req.SessionID == "" || !errors.Is(err, ErrSessionExpired) {
		return res, err
	}
	retry := req
	retry.SessionID = ""
	return e.inner.Run(ctx, retry)
}
