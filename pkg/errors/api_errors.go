package errors

import "errors"

// Sentinel errors shared by the replica and its stores
var (
	ErrDisconnected   = errors.New("store disconnected")
	ErrNotInitialized = errors.New("root row not initialized")
	ErrTxnClosed      = errors.New("transaction already submitted")
)

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
