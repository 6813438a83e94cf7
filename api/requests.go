package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// listItemRequest is the body of PUT /items/{id}.
type listItemRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Category string `json:"category" validate:"max=100"`
	Image    string `json:"image" validate:"omitempty,max=2048"`
	Cost     string `json:"cost" validate:"required,numeric"`
	Rating   int    `json:"rating" validate:"min=0,max=5"`
	Stock    int64  `json:"stock" validate:"min=0"`
}

// buyRequest is the body of POST /items/{id}/buy.
type buyRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

// requestError is a client-side problem with the request itself.
type requestError struct {
	msg     string
	details map[string]string
}

func (e *requestError) Error() string { return e.msg }

func decodeBody(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return &requestError{msg: "invalid request body", details: map[string]string{"error": err.Error()}}
	}
	if err := validate.Struct(dest); err != nil {
		return validationFailed(err)
	}
	return nil
}

func validationFailed(err error) *requestError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &requestError{msg: "validation failed"}
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = validationMessage(fe)
	}
	return &requestError{msg: "validation failed", details: details}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "numeric":
		return "must be a decimal number"
	}
	return "is invalid"
}
