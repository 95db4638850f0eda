package oauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs(t *testing.T) {
	wrappedErr := fmt.Errorf("%w: 127.0.0.1:19876: address already in use", ErrCallbackPortBusy)
	assert.True(t, errors.Is(wrappedErr, ErrCallbackPortBusy))
	assert.False(t, errors.Is(wrappedErr, ErrCallbackTimeout))
}

func TestErrorsAreDistinct(t *testing.T) {
	errs := []error{
		ErrServerNotOAuth,
		ErrCallbackPortBusy,
		ErrCallbackTimeout,
		ErrAuthorizationDenied,
		ErrListenerClosed,
		ErrNoAuthData,
	}

	for i, err1 := range errs {
		for j, err2 := range errs {
			if i != j {
				assert.False(t, errors.Is(err1, err2), "%v should not match %v", err1, err2)
			}
		}
	}
}
