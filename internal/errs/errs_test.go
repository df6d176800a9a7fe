package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfSurvivesWrapping(t *testing.T) {
	base := New(CodeEntitlementDenied, "subscribe", "trial already used")
	wrapped := fmt.Errorf("tx: %w", base)

	assert.Equal(t, CodeEntitlementDenied, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeEntitlementDenied))
	assert.False(t, Is(nil, CodeEntitlementDenied))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("db down")))
	assert.Equal(t, "[ENTITLEMENT_DENIED] subscribe: trial already used", base.Error())
}

func TestWrapWithCodeNil(t *testing.T) {
	assert.NoError(t, WrapWithCode(CodeNotFound, "op", nil))

	cause := errors.New("no rows")
	err := WrapWithCode(CodeNotFound, "get master", cause)
	assert.ErrorIs(t, err, cause)
}
