package tools

import "context"

// Unavailable stands in for a tool whose capability probe failed at
// startup. Every call fails with the probe's reason, so jobs naming the
// tool surface a clear error instead of a nil dereference.
type Unavailable struct {
	name string
	err  error
}

// NewUnavailable builds the stand-in for name, failing with err.
func NewUnavailable(name string, err error) *Unavailable {
	return &Unavailable{name: name, err: err}
}

func (u *Unavailable) Name() string      { return u.name }
func (u *Unavailable) SideEffects() bool { return false }

func (u *Unavailable) Execute(_ context.Context, req Request) Response {
	return failure(req, u.err.Error())
}
