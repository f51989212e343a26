package oauth

import (
	"net/url"
	"strings"
)

const errInvalidRequest = "invalid_request"

// CallbackParams is the parsed query of an authorization redirect. Either
// Successful is true and Code is set, or Error is set.
type CallbackParams struct {
	Successful       bool   `json:"successful"`
	Code             string `json:"code,omitempty"`
	State            string `json:"state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// ParseCallbackParams parses a redirect query string, with or without the
// leading "?". A query with neither code nor error is reported as
// invalid_request.
func ParseCallbackParams(query string) CallbackParams {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return CallbackParams{
			Error:            errInvalidRequest,
			ErrorDescription: "malformed callback query: " + err.Error(),
		}
	}
	return CallbackParamsFromValues(values)
}

// CallbackParamsFromValues is ParseCallbackParams for an already decoded query.
func CallbackParamsFromValues(values url.Values) CallbackParams {
	state := values.Get("state")

	if code := values.Get("code"); code != "" {
		return CallbackParams{Successful: true, Code: code, State: state}
	}

	if e := values.Get("error"); e != "" {
		return CallbackParams{
			Error:            e,
			ErrorDescription: values.Get("error_description"),
			ErrorURI:         values.Get("error_uri"),
			State:            state,
		}
	}

	return CallbackParams{
		Error:            errInvalidRequest,
		ErrorDescription: "Missing code or error in response",
		State:            state,
	}
}

// Err returns the redirect error, or nil for a successful redirect.
func (p CallbackParams) Err() error {
	if p.Successful {
		return nil
	}
	return &AuthorizationDeniedError{Code: p.Error, Description: p.ErrorDescription, URI: p.ErrorURI}
}

// Message renders the redirect error for people.
func (p CallbackParams) Message() string {
	if p.Successful {
		return ""
	}
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(p.Error)
	if p.ErrorDescription != "" {
		b.WriteString("\nDetails: ")
		b.WriteString(p.ErrorDescription)
	}
	if p.ErrorURI != "" {
		b.WriteString("\nMore info: ")
		b.WriteString(p.ErrorURI)
	}
	return b.String()
}
