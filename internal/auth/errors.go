package auth

import "errors"

// Rejection reasons are distinct on purpose: the audit trail and the
// presentation layer both need to tell them apart.
var (
	ErrUserNotFound      = errors.New("auth: user not found")
	ErrNoCredential      = errors.New("auth: no credential set")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrThrottled         = errors.New("auth: too many attempts")
)
