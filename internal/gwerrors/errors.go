// Package gwerrors defines the single error sum type used across the gateway.
//
// Every error that can cross a package boundary is a *Error with a stable
// Kind discriminator. Callers branch on Kind, never on the message text.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the error taxonomy. New kinds are appended, never
// renumbered, since clients may persist the string value.
type Kind string

const (
	KindInvalidRequest        Kind = "invalid_request"
	KindInvalidMessage        Kind = "invalid_message"
	KindJSONSchema            Kind = "json_schema"
	KindJSONSchemaValidation  Kind = "json_schema_validation"
	KindTemplateRender        Kind = "template_render"
	KindUnknownFunction       Kind = "unknown_function"
	KindUnknownModel          Kind = "unknown_model"
	KindUnknownVariant        Kind = "unknown_variant"
	KindUnknownMetric         Kind = "unknown_metric"
	KindProviderNotFound      Kind = "provider_not_found"
	KindAPIKeyMissing         Kind = "api_key_missing"
	KindInferenceClient       Kind = "inference_client"
	KindInferenceServer       Kind = "inference_server"
	KindAllVariantsFailed     Kind = "all_variants_failed"
	KindModelProvidersExhausted Kind = "model_providers_exhausted"
	KindTimeout               Kind = "timeout"
	KindSerialization         Kind = "serialization"
	KindAnalyticsStoreWrite   Kind = "analytics_store_write"
	KindObjectStore           Kind = "object_store"
	KindCache                 Kind = "cache"
	KindInternalError         Kind = "internal_error"
)

// Error is the gateway's single structured error type.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int  // upstream status code, when Kind is InferenceClient/InferenceServer
	Retryable  bool // whether D should retry this error
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As is a typed convenience wrapper around errors.As for *Error, mirroring
// the teacher's errors.AsType[*T] helper.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}

	return nil, false
}

// IsRetryable reports whether err, viewed as a gateway error, should be
// retried by the retry/fallback harness (component D). Errors that are not
// *Error are treated as non-retryable.
func IsRetryable(err error) bool {
	ge, ok := As(err)
	if !ok {
		return false
	}

	return ge.Retryable
}

// HTTPStatus maps a Kind to the status code the gateway surfaces to callers,
// per spec's status-code table.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest, KindInvalidMessage, KindJSONSchema, KindJSONSchemaValidation,
		KindTemplateRender:
		return http.StatusBadRequest
	case KindUnknownFunction, KindUnknownModel, KindUnknownVariant, KindUnknownMetric,
		KindProviderNotFound:
		return http.StatusNotFound
	case KindAPIKeyMissing:
		return http.StatusUnauthorized
	case KindInferenceClient, KindInferenceServer:
		if e.StatusCode != 0 {
			return e.StatusCode
		}

		return http.StatusBadGateway
	case KindAllVariantsFailed, KindModelProvidersExhausted:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindAnalyticsStoreWrite:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retryableStatus mirrors 4.B's classification: 408/425/429/500/502/503/504
// and transport timeouts are retryable; other 4xx are not.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyProviderStatus builds an InferenceClient or InferenceServer error
// from an upstream HTTP status code, applying the retryability rule in 4.B.
func ClassifyProviderStatus(status int, body string) *Error {
	kind := KindInferenceClient
	if status >= 500 {
		kind = KindInferenceServer
	}

	return &Error{
		Kind:       kind,
		Message:    body,
		StatusCode: status,
		Retryable:  retryableStatus(status),
	}
}
