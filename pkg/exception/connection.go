package exception

import "github.com/yanun0323/errors"

var (
	ErrEmptyURL = errors.New("connection: empty url")
)
