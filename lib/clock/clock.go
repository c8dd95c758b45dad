// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject a Fake with deterministic control.
//
// The API is deliberately small: the only time-dependent code in
// Rootsmith is expiry computation and the task-status poll loop, so
// Now and Sleep cover every caller.
package clock

import "time"

// Clock provides the current time and delays. Functions that call
// time.Now or time.Sleep should take a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a Clock whose time only moves when Sleep is called or
// Advance is invoked. Sleep advances the fake time by the full
// requested duration and returns immediately, which lets poll loops
// run to their deadline instantly in tests.
//
// Fake is not safe for concurrent use; the workflows under test are
// single-threaded.
type Fake struct {
	// Current is the fake current time. Zero value is the zero time,
	// which is fine for duration-only tests.
	Current time.Time

	// Slept records every Sleep duration, in call order.
	Slept []time.Duration
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time { return f.Current }

// Sleep advances the fake time by d without blocking.
func (f *Fake) Sleep(d time.Duration) {
	f.Current = f.Current.Add(d)
	f.Slept = append(f.Slept, d)
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
