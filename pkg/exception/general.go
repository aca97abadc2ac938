package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrTypeUnsupported = errors.New("type unsupported")
)
