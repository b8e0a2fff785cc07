package wsclient

import "errors"

var (
	// ErrAlreadyConnected is returned by Connect while a link is live.
	ErrAlreadyConnected = errors.New("wsclient: already connected")

	// ErrConnectionFailed wraps dial and handshake failures.
	ErrConnectionFailed = errors.New("wsclient: connection failed")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("wsclient: invalid options")
)
