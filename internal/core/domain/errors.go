package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrPollInProgress indicates a poll for the subscription is already running
	ErrPollInProgress = errors.New("poll already in progress")

	// ErrUnsupportedProvider indicates no gateway is registered for the provider type
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrSubscriptionDisabled indicates the subscription is not enabled
	ErrSubscriptionDisabled = errors.New("subscription disabled")

	// ErrTaskNotPending indicates the task already started or finished
	ErrTaskNotPending = errors.New("task not pending")

	// ErrAuthorization indicates the gateway could not log in to the source
	ErrAuthorization = errors.New("authorization failed")

	// ErrDiscovery indicates schema discovery failed
	ErrDiscovery = errors.New("entity discovery failed")

	// ErrDetection indicates change detection failed for an entity type
	ErrDetection = errors.New("change detection failed")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")
)
