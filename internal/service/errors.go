package service

import "errors"

var (
	// ErrTokenInvalid means the stored token was rejected by the provider.
	// The connection has been removed by the time this is returned.
	ErrTokenInvalid = errors.New("instagram token is no longer valid")

	ErrInvalidConnection = errors.New("connection is missing required fields")
	ErrNoProfilePicture  = errors.New("account has no profile picture")
)
