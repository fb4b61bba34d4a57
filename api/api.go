package api

import "errors"

var (
	// ErrNotAvailable indicates that a value or resource is not available
	ErrNotAvailable = errors.New("not available")

	// ErrMustRetry indicates that the operation should be retried on next occasion
	ErrMustRetry = errors.New("must retry")

	// ErrNotReady indicates that the initial status and vehicle data has not been read yet
	ErrNotReady = errors.New("reading necessary data not finished yet")

	// ErrUnknownVehicle indicates that the addressed vehicle is not part of the account
	ErrUnknownVehicle = errors.New("unknown vehicle")

	// ErrLoginFormNotFound indicates that the identity provider login page did not contain the expected markers
	ErrLoginFormNotFound = errors.New("login form not found")

	// ErrTokenParse indicates that the token redirect or token response could not be parsed
	ErrTokenParse = errors.New("token parse error")

	// ErrConsentRequired indicates that the account requires accepting new terms or consent
	ErrConsentRequired = errors.New("consent required")

	// ErrAuthExpired indicates an expired or missing access token
	ErrAuthExpired = errors.New("token expired")

	// ErrInvalidValue indicates an out of range or unsupported setting value
	ErrInvalidValue = errors.New("invalid value")
)
