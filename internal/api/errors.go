package api

import "errors"

var (
	ErrNotFound    = errors.New("resource not found")
	ErrRateLimited = errors.New("rate limited by server")
	ErrBadRequest  = errors.New("request rejected by server")
)
