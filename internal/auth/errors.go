package auth

import (
	"booky.app/internal/kvstore"
	"booky.app/internal/mail"
	"booky.app/internal/ratelimit"
	"booky.app/internal/registration"
	"booky.app/internal/session"
	"booky.app/internal/users"
)

// Error taxonomy shared by every accounts flow. The sentinels are owned by the
// packages that raise them and re-exported here so the HTTP boundary maps one
// set of values.
var (
	ErrDuplicateEmail        = registration.ErrDuplicateEmail
	ErrExpiredOrUnknownToken = registration.ErrExpiredOrUnknownToken
	ErrNotVerified           = registration.ErrNotVerified
	ErrInvalidInput          = registration.ErrInvalidInput
	ErrInvalidCredentials    = users.ErrInvalidCredentials
	ErrUnauthorized          = session.ErrUnauthorized
	ErrRateLimited           = ratelimit.ErrLimited
	ErrStoreUnavailable      = kvstore.ErrUnavailable
	ErrDeliveryFailed        = mail.ErrDeliveryFailed
)
