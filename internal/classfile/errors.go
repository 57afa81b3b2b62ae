package classfile

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed     = errors.New("classfile: malformed input")
	ErrSerialization = errors.New("classfile: serialization failed")
)

// MalformedInputError reports a class file that cannot be decoded. Offset
// is the byte position in the input where the problem was found.
type MalformedInputError struct {
	Offset int
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classfile: malformed input at byte %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("classfile: malformed input at byte %d: %s", e.Offset, e.Reason)
}

func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformed }

func (e *MalformedInputError) Unwrap() error { return e.Err }

func malformed(off int, err error, format string, args ...any) error {
	return &MalformedInputError{Offset: off, Reason: fmt.Sprintf(format, args...), Err: err}
}

// SerializationError reports a method that cannot be written as valid
// bytecode. Offset is the code array position, or -1 when not applicable.
type SerializationError struct {
	Class  string
	Method string
	Offset int
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("classfile: write %s.%s at offset %d: %v", e.Class, e.Method, e.Offset, e.Err)
	}
	return fmt.Sprintf("classfile: write %s.%s: %v", e.Class, e.Method, e.Err)
}

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

func (e *SerializationError) Unwrap() error { return e.Err }
