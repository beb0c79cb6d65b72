package core

import (
	"errors"
	"fmt"
)

// FailureKind is the terminal reason of a failed callback, sync step or dispatch.
type FailureKind string

const (
	FailureConfiguration       FailureKind = "configuration_error"
	FailureProviderError       FailureKind = "provider_error"
	FailureMissingParameters   FailureKind = "missing_parameters"
	FailureStateMismatch       FailureKind = "state_mismatch"
	FailureAlreadyProcessed    FailureKind = "already_processed"
	FailureTokenExchange       FailureKind = "token_exchange_failed"
	FailureProfileFetch        FailureKind = "profile_fetch_failed"
	FailureMissingSubresource  FailureKind = "missing_subresource"
	FailureExpiredToken        FailureKind = "expired_token"
	FailureUnsupportedProvider FailureKind = "unsupported_provider"
	FailureStore               FailureKind = "store_failed"
)

var (
	ErrStateMismatch     = errors.New("oauth state mismatch")
	ErrMissingParameters = errors.New("callback missing code or state")
	ErrProviderDenied    = errors.New("provider returned an error")
	ErrAlreadyProcessed  = errors.New("callback already processed")
)

// FlowError is what the callback processor, sync orchestrator and dispatcher
// hand back to callers. It is never allowed to escape as a panic.
type FlowError struct {
	Kind     FailureKind
	Provider Provider
	Message  string
	Err      error
}

func newFlowError(kind FailureKind, provider Provider, message string, err error) *FlowError {
	return &FlowError{Kind: kind, Provider: provider, Message: message, Err: err}
}

func (e *FlowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Security reports failures that point at a forged or replayed callback.
func (e *FlowError) Security() bool {
	return e.Kind == FailureStateMismatch
}

// UserMessage is an actionable text for the dashboard.
func (e *FlowError) UserMessage() string {
	name := e.Provider.DisplayName()
	switch e.Kind {
	case FailureConfiguration:
		return fmt.Sprintf("%s is not configured on this server. Contact your administrator.", name)
	case FailureProviderError:
		if e.Message != "" {
			return fmt.Sprintf("%s rejected the connection (%s). Please try connecting again.", name, e.Message)
		}
		return fmt.Sprintf("%s rejected the connection. Please try connecting again.", name)
	case FailureMissingParameters:
		return fmt.Sprintf("The %s response was incomplete. Please try connecting again.", name)
	case FailureStateMismatch:
		return fmt.Sprintf("The %s connection request could not be verified. Please start the connection again.", name)
	case FailureAlreadyProcessed:
		return fmt.Sprintf("This %s connection attempt was already handled. Start a new connection if needed.", name)
	case FailureTokenExchange:
		return fmt.Sprintf("Could not obtain access from %s. Please reconnect.", name)
	case FailureProfileFetch:
		return fmt.Sprintf("Could not load your %s profile. Please reconnect.", name)
	case FailureMissingSubresource:
		var sub *SubresourceError
		if errors.As(e.Err, &sub) && sub.Hint != "" {
			return sub.Hint
		}
		return fmt.Sprintf("Your %s account is missing a required page or channel. Create it first, then connect again.", name)
	case FailureExpiredToken:
		return fmt.Sprintf("Your %s token expired, please reconnect.", name)
	case FailureUnsupportedProvider:
		return fmt.Sprintf("%q is not a supported provider.", string(e.Provider))
	}
	return fmt.Sprintf("Something went wrong with %s. Please reconnect.", name)
}

// KindOf extracts the FailureKind of err, or "" when err is not a FlowError.
func KindOf(err error) FailureKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
