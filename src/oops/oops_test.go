package oops

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

var SampleErrorValue = errors.New("disk is on fire")

type SampleErrorType struct {
	Message string
}

func (s SampleErrorType) Error() string {
	return s.Message
}

func init() {
	zerolog.ErrorStackMarshaler = ZerologStackMarshaler
}

func TestNew(t *testing.T) {
	t.Run("errors.Is", func(t *testing.T) {
		err := New(SampleErrorValue, "failed to write image")
		assert.True(t, errors.Is(err, SampleErrorValue))
	})
	t.Run("errors.As", func(t *testing.T) {
		err := New(SampleErrorType{Message: "bucket went missing"}, "failed to write image")
		var sErr SampleErrorType
		assert.True(t, errors.As(err, &sErr))
		assert.Equal(t, "bucket went missing", sErr.Message)
	})
	t.Run("message", func(t *testing.T) {
		assert.Equal(t, "failed to write image: disk is on fire", New(SampleErrorValue, "failed to write %s", "image").Error())
		assert.Equal(t, "no cause", New(nil, "no cause").Error())
	})
	t.Run("stack starts at caller", func(t *testing.T) {
		err := New(nil, "here").(*Error)
		if assert.NotEmpty(t, err.Stack) {
			assert.True(t, strings.Contains(err.Stack[0].Function, "TestNew"), err.Stack[0].Function)
		}
	})
}

func TestZerologStackMarshaler(t *testing.T) {
	assert.Nil(t, ZerologStackMarshaler(SampleErrorValue))
	assert.NotNil(t, ZerologStackMarshaler(New(SampleErrorValue, "wrapped")))
}
