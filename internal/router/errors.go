package router

import (
	"fmt"
	"strings"

	"github.com/compresr/llm-gateway/internal/tasks"
)

// ConfigError means the request cannot be routed: nothing is enabled, the
// named provider does not exist, or the request itself is inconsistent.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProviderRequestError is a failed call to one provider.
type ProviderRequestError struct {
	Provider string
	Task     tasks.TaskType
	Err      error
}

func (e *ProviderRequestError) Error() string {
	return fmt.Sprintf("provider %s failed for %s: %v", e.Provider, e.Task, e.Err)
}

func (e *ProviderRequestError) Unwrap() error { return e.Err }

// AllProvidersFailedError is returned when the primary provider and every
// fallback failed. Primary is always set; Fallbacks may be empty.
type AllProvidersFailedError struct {
	Task      tasks.TaskType
	Primary   *ProviderRequestError
	Fallbacks []*ProviderRequestError
}

func (e *AllProvidersFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all providers failed for %s: primary %s: %v", e.Task, e.Primary.Provider, e.Primary.Err)
	for _, f := range e.Fallbacks {
		fmt.Fprintf(&b, "; fallback %s: %v", f.Provider, f.Err)
	}
	return b.String()
}

// Unwrap exposes every underlying failure to errors.Is and errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, 1+len(e.Fallbacks))
	errs = append(errs, e.Primary)
	for _, f := range e.Fallbacks {
		errs = append(errs, f)
	}
	return errs
}

// Attempts returns how many providers were tried.
func (e *AllProvidersFailedError) Attempts() int { return 1 + len(e.Fallbacks) }
