package domain

import (
	"errors"
	"fmt"
)

// ErrSchemaMismatch marks a solver rejection caused by the request shape.
var ErrSchemaMismatch = errors.New("solver rejected request schema")

type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

type ForecastUnavailableError struct {
	Source string
	Err    error
}

func (e *ForecastUnavailableError) Error() string {
	return fmt.Sprintf("forecast %s unavailable: %v", e.Source, e.Err)
}

func (e *ForecastUnavailableError) Unwrap() error { return e.Err }

type OptimizationTimeoutError struct {
	Deadline string
	Err      error
}

func (e *OptimizationTimeoutError) Error() string {
	return fmt.Sprintf("optimization timed out after %s", e.Deadline)
}

func (e *OptimizationTimeoutError) Unwrap() error { return e.Err }

type OptimizationTransportError struct {
	Err error
}

func (e *OptimizationTransportError) Error() string {
	return fmt.Sprintf("optimization transport: %v", e.Err)
}

func (e *OptimizationTransportError) Unwrap() error { return e.Err }

type OptimizationResponseError struct {
	Reason string
	Err    error
}

func (e *OptimizationResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("optimization response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("optimization response: %s", e.Reason)
}

func (e *OptimizationResponseError) Unwrap() error { return e.Err }

type InvalidOverrideError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidOverrideError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid override %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid override %s %q: %s", e.Field, e.Value, e.Reason)
}

type BackendAuthError struct {
	Backend string
	Err     error
}

func (e *BackendAuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Backend, e.Err)
}

func (e *BackendAuthError) Unwrap() error { return e.Err }

type BackendTransportError struct {
	Backend string
	Err     error
}

func (e *BackendTransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Backend, e.Err)
}

func (e *BackendTransportError) Unwrap() error { return e.Err }

type BackendRejectedError struct {
	Backend string
	Reason  string
}

func (e *BackendRejectedError) Error() string {
	return fmt.Sprintf("%s: device rejected command: %s", e.Backend, e.Reason)
}

// ErrorKind gives a short, stable label for metrics and status output.
func ErrorKind(err error) string {
	var (
		cfgErr       *ConfigError
		forecastErr  *ForecastUnavailableError
		timeoutErr   *OptimizationTimeoutError
		transportErr *OptimizationTransportError
		responseErr  *OptimizationResponseError
		overrideErr  *InvalidOverrideError
		authErr      *BackendAuthError
		bTransErr    *BackendTransportError
		rejectedErr  *BackendRejectedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &forecastErr):
		return "forecast_unavailable"
	case errors.As(err, &timeoutErr):
		return "optimization_timeout"
	case errors.As(err, &transportErr):
		return "optimization_transport"
	case errors.As(err, &responseErr):
		return "optimization_response"
	case errors.As(err, &overrideErr):
		return "invalid_override"
	case errors.As(err, &authErr):
		return "backend_auth"
	case errors.As(err, &bTransErr):
		return "backend_transport"
	case errors.As(err, &rejectedErr):
		return "backend_rejected"
	}
	return "unknown"
}
