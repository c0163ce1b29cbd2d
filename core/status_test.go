package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, Status(-7), StatusMode)
	assert.Equal(t, Status(-8), StatusFrameFormat)
	assert.Equal(t, Status(-9), StatusDataBits)
	assert.Equal(t, Status(-10), StatusBitOrder)
	assert.Equal(t, Status(-11), StatusSSMode)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusBusy, StatusOf(ErrBusy))
	assert.Equal(t, StatusTimeout, StatusOf(fmt.Errorf("flash: read id: %w", ErrTimeout)))
	assert.Equal(t, StatusError, StatusOf(errors.New("other")))
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, "spim: busy", ErrBusy.Error())
	assert.Equal(t, "spim: status -42", Status(-42).Error())
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", ErrDataBits), ErrDataBits))
	assert.False(t, errors.Is(ErrDataBits, ErrMode))
}
