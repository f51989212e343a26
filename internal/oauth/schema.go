package oauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var schema = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the record against the client information schema.
func (c *ClientInformation) Validate() error {
	if c == nil {
		return &ValidationError{Field: "client_information", Message: "missing"}
	}
	return schemaError("client_information", schema.Struct(c))
}

// Validate checks the record against the token response schema.
func (t *Tokens) Validate() error {
	if t == nil {
		return &ValidationError{Field: "tokens", Message: "missing"}
	}
	return schemaError("tokens", schema.Struct(t))
}

// Validate checks that the persisted metadata still carries usable endpoints.
func (m *AuthorizationServerMetadata) Validate() error {
	if m == nil {
		return &ValidationError{Field: "server_metadata", Message: "missing"}
	}
	return schemaError("server_metadata", schema.Struct(m))
}

func schemaError(record string, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate %s: %w", record, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return &ValidationError{Field: record, Message: strings.Join(msgs, ", ")}
}
