package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := StorageError("vectorstore.add", io.ErrUnexpectedEOF)

	assert.True(t, errors.Is(err, ErrStorage))
	assert.False(t, errors.Is(err, ErrGeneration))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, "vectorstore.add: storage error: unexpected EOF", err.Error())
}

func TestErrorKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("draft reply: %w", GenerationError("xai.generate", errors.New("quota exceeded")))

	assert.True(t, errors.Is(err, ErrGeneration))

	var de *Error
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, KindGeneration, de.Kind)
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError("ingest", "text payload is empty")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "text payload is empty")
}
