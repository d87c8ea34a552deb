package blobstore

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable indicates the underlying store could not be opened.
	ErrStorageUnavailable = errors.New("blob storage unavailable")

	// ErrRead indicates a read of stored records failed.
	ErrRead = errors.New("blob read failed")

	// ErrWrite indicates a put failed.
	ErrWrite = errors.New("blob write failed")

	// ErrDelete indicates a delete or batch delete failed.
	ErrDelete = errors.New("blob delete failed")
)

// OpError describes a failed blob store operation. It matches both its Kind
// and the underlying cause with errors.Is.
type OpError struct {
	Op   string
	ID   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("blob %s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("blob %s %s: %v: %v", e.Op, e.ID, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func ReadError(op string, err error) error {
	return wrap(op, "", ErrRead, err)
}

func WriteError(op, id string, err error) error {
	return wrap(op, id, ErrWrite, err)
}

func DeleteError(op, id string, err error) error {
	return wrap(op, id, ErrDelete, err)
}

// wrap leaves errors that already carry ErrStorageUnavailable untouched so the
// caller sees the open failure rather than a generic write or delete failure.
func wrap(op, id string, kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &OpError{Op: op, ID: id, Kind: kind, Err: err}
}
