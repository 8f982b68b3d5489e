package utils

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"git.handmade.network/hmn/imghost/src/oops"
)

// Returns the provided value, or a default value if the input was zero.
func OrDefault[T comparable](v T, def T) T {
	var zero T
	if v == zero {
		return def
	} else {
		return v
	}
}

func IntMax(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// NumPages never returns less than 1, so an empty listing still has a first page.
func NumPages(numThings, thingsPerPage int) int {
	if thingsPerPage <= 0 {
		panic("thingsPerPage must be positive")
	}
	return IntMax((numThings+thingsPerPage-1)/thingsPerPage, 1)
}

// Panics if err is non-nil. Works for typed nil errors too.
func Must[E error](err E) {
	if !isNilError(err) {
		panic(err)
	}
}

func Must1[T any, E error](v T, err E) T {
	Must(err)
	return v
}

func isNilError[E error](err E) bool {
	var asError error = err
	if asError == nil {
		return true
	}
	v := reflect.ValueOf(asError)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

/*
Recover a panic and convert it to a returned error. Call it like so:

	func MyFunc() (err error) {
		defer utils.RecoverPanicAsError(&err)
	}

If an error was already present, the panicked error takes precedence.
*/
func RecoverPanicAsError(err *error) {
	if r := recover(); r != nil {
		var recoveredErr error
		if rerr, ok := r.(error); ok {
			recoveredErr = rerr
		} else {
			recoveredErr = fmt.Errorf("panic with value: %v", r)
		}
		*err = oops.New(recoveredErr, "panic recovered as error")
	}
}

var ErrSleepInterrupted = errors.New("sleep interrupted by context cancellation")

func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrSleepInterrupted
	case <-timer.C:
		return nil
	}
}
