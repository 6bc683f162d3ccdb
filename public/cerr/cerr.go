// Package cerr holds sentinel errors shared by connectors and the gateway.
package cerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotSupported = errors.New("not supported")
	ErrValidateConf = errors.New("validate config")
	ErrClosed       = errors.New("closed")
	ErrUnknownMsgID = errors.New("unknown message id")
)

func ValidationErr(text string) error {
	return fmt.Errorf(text+": %w", ErrValidateConf)
}
