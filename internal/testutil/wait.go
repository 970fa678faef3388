package testutil

import "time"

// Bounds for assert.Eventually in runtime tests.
const (
	WaitFor   = 2 * time.Second
	PollEvery = 5 * time.Millisecond
)
