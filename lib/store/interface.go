package store

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the key-value contract the metadata store and the lock manager
// are written against. Writes return only an error, reads return the value
// plus an error.
//
// expireIn and deleteIn are seconds relative to the write, 0 disables them.
type IStore interface {
	// Set writes a value without deadlines.
	Set(key string, value []byte) (err error)
	// SetE writes a value with an expiration and/or deletion deadline.
	SetE(key string, value []byte, expireIn, deleteIn uint64) (err error)
	// SetEIfUnset writes the value only if the key is absent. An existing key is
	// left untouched and no error is returned. Callers read the key back to learn
	// whether their write won.
	SetEIfUnset(key string, value []byte, expireIn, deleteIn uint64) (err error)
	// Expire hides the value of a key. Has keeps reporting the key.
	Expire(key string) (err error)
	// Delete removes a key.
	Delete(key string) (err error)
	// Get returns the value of a key, loaded is false for absent or expired keys.
	Get(key string) (value []byte, loaded bool, err error)
	// Has reports whether a key exists, expired keys included.
	Has(key string) (loaded bool, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is returned by backends that can classify their failures.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// CodeOf returns the code of a store error in err's chain, RetCInternalError
// for any other non nil error and RetCSuccess for nil.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the backend.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCUnavailable                         // 4: Backend could not be reached.
)

var retCodeNames = map[RetCode]string{
	RetCSuccess:              "Success",
	RetCInternalError:        "InternalError",
	RetCUnsupportedOperation: "UnsupportedOperation",
	RetCInvalidOperation:     "InvalidOperation",
	RetCUnavailable:          "Unavailable",
}

func (c RetCode) String() string {
	if name, ok := retCodeNames[c]; ok {
		return name
	}
	return "Unknown"
}
