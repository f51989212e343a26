package oauth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCallbackParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  CallbackParams
	}{
		{
			name:  "code and state",
			query: "?code=abc&state=normal:xyz",
			want:  CallbackParams{Successful: true, Code: "abc", State: "normal:xyz"},
		},
		{
			name:  "without leading question mark",
			query: "code=abc",
			want:  CallbackParams{Successful: true, Code: "abc"},
		},
		{
			name:  "code wins over error",
			query: "?code=abc&error=access_denied",
			want:  CallbackParams{Successful: true, Code: "abc"},
		},
		{
			name:  "error with details",
			query: "?error=access_denied&error_description=User+denied&error_uri=https%3A%2F%2Fdocs",
			want: CallbackParams{
				Error:            "access_denied",
				ErrorDescription: "User denied",
				ErrorURI:         "https://docs",
			},
		},
		{
			name:  "neither code nor error",
			query: "?foo=bar",
			want: CallbackParams{
				Error:            "invalid_request",
				ErrorDescription: "Missing code or error in response",
			},
		},
		{
			name:  "empty query",
			query: "",
			want: CallbackParams{
				Error:            "invalid_request",
				ErrorDescription: "Missing code or error in response",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCallbackParams(tt.query))
		})
	}
}

func TestParseCallbackParams_Malformed(t *testing.T) {
	got := ParseCallbackParams("?code=%zz")
	assert.False(t, got.Successful)
	assert.Equal(t, "invalid_request", got.Error)
}

func TestCallbackParams_Err(t *testing.T) {
	assert.NoError(t, CallbackParams{Successful: true, Code: "c"}.Err())

	err := CallbackParams{Error: "access_denied", ErrorDescription: "nope"}.Err()
	var denied *AuthorizationDeniedError
	assert.True(t, errors.As(err, &denied))
	assert.Equal(t, "access_denied", denied.Code)
	assert.Equal(t, "authorization failed: access_denied: nope", err.Error())
}

func TestCallbackParams_Message(t *testing.T) {
	p := CallbackParams{Error: "access_denied", ErrorDescription: "User denied", ErrorURI: "https://docs"}
	assert.Equal(t, "Error: access_denied\nDetails: User denied\nMore info: https://docs", p.Message())
	assert.Empty(t, CallbackParams{Successful: true}.Message())
}
