package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrInvalidConfig)
	assert.Equal(t, "Invalid configuration", err.Error())

	err = errFactory.Wrap(errors.ErrReadConfig, fmt.Errorf("boom"))
	assert.Equal(t, "Failed to read configuration: boom", err.Error())

	err = errFactory.WithData(errors.ErrInvalidArgument, "channels must be positive")
	assert.Equal(t, "Invalid argument provided: channels must be positive", err.Error())

	err = errFactory.New(errors.ErrorCode("unknown_code"))
	assert.Equal(t, "unknown_code", err.Error())
}

func TestHasCode(t *testing.T) {
	errFactory := errors.New()
	inner := errFactory.New(errors.ErrResourceBusy)
	outer := errFactory.Wrap(errors.ErrOperationFailed, fmt.Errorf("submit: %w", inner))

	assert.True(t, errors.HasCode(outer, errors.ErrOperationFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrResourceBusy))
	assert.False(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(nil, errors.ErrTimeout))
	assert.Equal(t, errors.ErrOperationFailed, errors.CodeOf(outer))
}

func TestIsMatchesByCode(t *testing.T) {
	errFactory := errors.New()
	sentinel := errFactory.New(errors.ErrResourceExhausted)
	err := fmt.Errorf("write: %w", errFactory.WithMessage(errors.ErrResourceExhausted, "no slots"))

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, errFactory.New(errors.ErrTimeout))
}

func TestCommonCodesHaveMessages(t *testing.T) {
	codes := []errors.ErrorCode{
		errors.ErrInternal, errors.ErrInvalidArgument, errors.ErrAlreadyRunning,
		errors.ErrInvalidConfig, errors.ErrBindFlags, errors.ErrReadConfig, errors.ErrInvalidInterval,
		errors.ErrInvalidLogLevel, errors.ErrInitFailed, errors.ErrShutdownFailed,
		errors.ErrResourceBusy, errors.ErrResourceExhausted,
		errors.ErrAttachDevice, errors.ErrOpenDevice, errors.ErrResetDevice,
		errors.ErrOperationFailed, errors.ErrTimeout, errors.ErrInvalidOperation,
		errors.ErrCollectMetrics, errors.ErrCloseMetrics,
	}

	for _, code := range codes {
		assert.NotEqual(t, string(code), errors.GetErrorMessage(code), code)
	}
	assert.Equal(t, "not_implemented", errors.GetErrorMessage(errors.ErrorCode("not_implemented")),
		"unregistered codes fall back to the code itself")
}
