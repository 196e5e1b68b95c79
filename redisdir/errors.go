package redisdir

import (
	"errors"

	"github.com/rarydzu/redisdir/kvstore"
)

var (
	ErrNotFound        = errors.New("file not found")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCorruptRecord is never returned by Directory, undecodable metadata
	// is treated as absent
	ErrCorruptRecord    = errors.New("corrupt file metadata")
	ErrIllegalState     = errors.New("illegal state")
	ErrClosed           = errors.New("stream closed")
	ErrMissingBlock     = errors.New("missing block")
	ErrLockObtainFailed = errors.New("lock obtain failed")
	ErrConnectivity     = kvstore.ErrConnectivity
)
