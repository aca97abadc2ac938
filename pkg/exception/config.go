package exception

import "github.com/yanun0323/errors"

var (
	ErrConfigNotFound = errors.New("config: file not found")
	ErrConfigInvalid  = errors.New("config: invalid")
)
