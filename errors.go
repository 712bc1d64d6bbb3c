package udstore

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/udstore/provider"
)

var (
	ErrUnknownNamespace   = errors.New("udstore: unknown namespace")
	ErrBackendUnavailable = errors.New("udstore: backend unavailable")
	// ErrCapacityExceeded is surfaced after the sweep-and-retry also failed.
	ErrCapacityExceeded = provider.ErrCapacityExceeded
	ErrIntegrity        = errors.New("udstore: integrity check failed")
	// ErrEncryptionUnavailable is returned when a sensitive namespace is
	// written while no cipher is available.
	ErrEncryptionUnavailable = errors.New("udstore: encryption unavailable")
	ErrMalformedBackup       = errors.New("udstore: malformed backup")
	ErrClosed                = errors.New("udstore: store closed")
)

// IntegrityError reports a record that failed decryption or checksum
// verification. errors.Is(err, ErrIntegrity) holds for it.
type IntegrityError struct {
	Namespace string
	Key       string
	Backend   string
	Err       error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("udstore: integrity check failed for %s/%s on %s: %v", e.Namespace, e.Key, e.Backend, e.Err)
}

func (e *IntegrityError) Unwrap() []error {
	errs := make([]error, 0, 2)
	errs = append(errs, ErrIntegrity)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// OpError ties a failure to the operation and record it happened on.
type OpError struct {
	Op        string
	Namespace string
	Key       string
	Backend   string
	Err       error
}

func (e *OpError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("udstore: %s %s/%s (%s): %v", e.Op, e.Namespace, e.Key, e.Backend, e.Err)
	case e.Namespace != "":
		return fmt.Sprintf("udstore: %s %s (%s): %v", e.Op, e.Namespace, e.Backend, e.Err)
	default:
		return fmt.Sprintf("udstore: %s: %v", e.Op, e.Err)
	}
}

func (e *OpError) Unwrap() error { return e.Err }
