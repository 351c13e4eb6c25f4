// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package logger defines a type for writing to logs. It's just a
// convenience type so that we don't have to pass verbose func(...)
// types around.
package logger

import (
	"container/list"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Logf is the basic logger type: a printf-like func.
// Like log.Printf, the format need not end in a newline.
// Logf functions must be safe for concurrent use.
//
// Functions that wrap logger functions must pass through the original
// format and args, possibly augmented. Replacing the format and args
// (e.g. with fmt.Sprintf and %s) disrupts rate limiting.
type Logf func(format string, args ...any)

// WithPrefix wraps f, prefixing each format with the provided prefix.
func WithPrefix(f Logf, prefix string) Logf {
	return func(format string, args ...any) {
		f(prefix+format, args...)
	}
}

// FuncWriter returns an io.Writer that writes to f.
func FuncWriter(f Logf) io.Writer {
	return funcWriter{f}
}

// StdLogger returns a standard library logger from a Logf.
// StdLoggers are discouraged, because they flatten all logging
// formats into %s, which interacts badly with rate limiting.
func StdLogger(f Logf) *log.Logger {
	return log.New(FuncWriter(f), "", 0)
}

type funcWriter struct{ f Logf }

func (w funcWriter) Write(p []byte) (int, error) {
	w.f("%s", p)
	return len(p), nil
}

// Discard is a Logf that throws away the logs given to it.
func Discard(string, ...any) {}

// limitData is the rate-limiting state kept per log format string.
type limitData struct {
	lim        *rate.Limiter // token bucket for this format
	msgBlocked bool          // whether a "rate limited" notice was already logged
	ele        *list.Element // position of this format in the LRU
}

// RateLimitedFn returns a rate-limiting Logf wrapping the given logf.
// Messages with the same format string are allowed through at a
// maximum of one per interval, in bursts of up to burst messages at a
// time. Up to maxCache distinct format strings are tracked at a time.
func RateLimitedFn(logf Logf, interval time.Duration, burst, maxCache int) Logf {
	r := rate.Every(interval)
	var (
		mu       sync.Mutex
		msgLim   = make(map[string]*limitData) // keyed by logf format
		msgCache = list.New()                  // rudimentary LRU bounding msgLim
	)

	return func(format string, args ...any) {
		mu.Lock()
		rl, ok := msgLim[format]
		if ok {
			msgCache.MoveToFront(rl.ele)
		} else {
			rl = &limitData{
				lim: rate.NewLimiter(r, burst),
				ele: msgCache.PushFront(format),
			}
			msgLim[format] = rl
			if msgCache.Len() > maxCache {
				delete(msgLim, msgCache.Back().Value.(string))
				msgCache.Remove(msgCache.Back())
			}
		}
		if rl.lim.Allow() {
			rl.msgBlocked = false
			mu.Unlock()
			logf(format, args...)
			return
		}
		firstBlock := !rl.msgBlocked
		rl.msgBlocked = true
		mu.Unlock()
		if firstBlock {
			logf("[RATE LIMITED] format string %q (example: %q)",
				format, strings.TrimSpace(fmt.Sprintf(format, args...)))
		}
	}
}

// LogOnChange logs a given line only if line != lastLine, or if
// maxInterval has passed since the last time this identical line was
// logged.
func LogOnChange(logf Logf, maxInterval time.Duration, timeNow func() time.Time) Logf {
	var (
		mu          sync.Mutex
		sLastLogged string
		tLastLogged = timeNow()
	)

	return func(format string, args ...any) {
		s := fmt.Sprintf(format, args...)

		mu.Lock()
		if s == sLastLogged && timeNow().Sub(tLastLogged) < maxInterval {
			mu.Unlock()
			return
		}
		sLastLogged = s
		tLastLogged = timeNow()
		mu.Unlock()

		// Re-stringify (instead of using "%s", s) so a line that
		// itself contains formatting directives stays intact.
		logf(format, args...)
	}
}
