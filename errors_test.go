package vfs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	vfs "github.com/RSKELT0N/VFS"
)

func TestErrorWithMessage(t *testing.T) {
	newErr := vfs.ErrNoSpace.WithMessage("asdfqwerty")
	assert.Equal(
		t, "No space left on device: asdfqwerty", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, vfs.ErrNoSpace)
}

func TestErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := vfs.ErrExists.Wrap(originalErr)
	expectedMessage := "File exists: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, vfs.ErrExists, "kind not set as parent")
}

func TestErrorKindsAreDistinct(t *testing.T) {
	assert.NotErrorIs(t, vfs.ErrNotFound.WithMessage("x"), vfs.ErrExists)
	assert.NotErrorIs(t, vfs.ErrNotMounted, vfs.ErrAlreadyMounted)
}
