package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-fatfs/fatfs/errors"
)

func TestDiskoErrorWithMessage(t *testing.T) {
	newErr := errors.ErrNotEnoughSpace.WithMessage("no free clusters")
	assert.Equal(t, "not enough space: no free clusters", newErr.Error())
	assert.ErrorIs(t, newErr, errors.ErrNotEnoughSpace)
}

func TestDiskoErrorWrapError(t *testing.T) {
	originalErr := stderrors.New("short read")
	newErr := errors.ErrIO.WrapError(originalErr)

	assert.Equal(t, "input/output error: short read", newErr.Error())
	assert.ErrorIs(t, newErr, originalErr)
	assert.ErrorIs(t, newErr, errors.ErrIO)
}
