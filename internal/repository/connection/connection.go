package connection

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type Conn interface {
	ID() string
	CloseWithCode(code int, text string)
}
