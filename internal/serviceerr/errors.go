package serviceerr

import "errors"

var ErrNotInitialized = errors.New("session not initialized")
var ErrTokenMalformed = errors.New("malformed token")
var ErrTokenExpired = errors.New("token expired")
var ErrNoRefreshToken = errors.New("no refresh token")
var ErrRefreshRejected = errors.New("refresh rejected")
var ErrSessionCleared = errors.New("session cleared")
var ErrNotFound = errors.New("not found")
