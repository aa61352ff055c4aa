package livefeed

import (
	"errors"

	"github.com/bitechdev/tagstream/pkg/store"
)

var (
	// ErrUnauthorized means the connection presented no valid credentials
	ErrUnauthorized = errors.New("livefeed: unauthorized")

	// ErrForbidden means the user may not view the requested card
	ErrForbidden = errors.New("livefeed: forbidden")

	// ErrCardNotFound means the card is missing or inactive
	ErrCardNotFound = store.ErrCardNotFound

	// errSendFailed ends a poll loop whose session can no longer be written to
	errSendFailed = errors.New("livefeed: send failed")
)
