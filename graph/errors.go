package graph

import (
	"fmt"

	"github.com/pkg/errors"

	"boxgraph/address"
)

var (
	// ErrDuplicateIdentity is returned when a box identity is already registered.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrNotInTransaction is returned by mutators called while no transaction is open.
	ErrNotInTransaction = errors.New("not in transaction")

	// ErrTransactionOpen is returned when a transaction is already open or
	// committing. Transactions do not nest.
	ErrTransactionOpen = errors.New("transaction already open")

	// ErrMandatoryPointerViolation is returned when a mandatory pointer would be
	// left empty, or a box with a live mandatory incoming pointer is deleted.
	ErrMandatoryPointerViolation = errors.New("mandatory pointer violation")

	// ErrPointerTypeMismatch is returned when a pointer refers to a box kind
	// outside its accepted set.
	ErrPointerTypeMismatch = errors.New("pointer type mismatch")

	// ErrUnknownBoxKind is returned when no factory is registered for a kind.
	ErrUnknownBoxKind = errors.New("unknown box kind")

	// ErrIntegrityCheckFailed is returned by VerifyIntegrity.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")

	// ErrBoxDeleted is returned when mutating a box that was deleted.
	ErrBoxDeleted = errors.New("box deleted")

	// ErrFieldRemoved is returned when mutating an array element that was removed.
	ErrFieldRemoved = errors.New("field removed from its array")

	// ErrForeignBox is returned when a box from another graph is passed in.
	ErrForeignBox = errors.New("box belongs to another graph")

	// ErrValueType is returned when a value does not fit a primitive field.
	ErrValueType = errors.New("value type mismatch")

	// ErrCorruptPayload is returned when a binary field payload is malformed.
	ErrCorruptPayload = errors.New("corrupt field payload")

	// ErrDanglingPointer is returned when a decoded pointer targets a box that
	// does not exist.
	ErrDanglingPointer = errors.New("dangling pointer")

	// ErrAddressNotFound is returned when an address does not resolve.
	ErrAddressNotFound = errors.New("address not found")

	// ErrIndexOutOfRange is returned for array indexes past the end.
	ErrIndexOutOfRange = errors.New("array index out of range")

	// ErrInvalidSchema is returned for malformed field declarations.
	ErrInvalidSchema = errors.New("invalid schema")
)

// ViolationError reports a structural violation at a specific address.
type ViolationError struct {
	Err     error
	Address address.Address
	Detail  string
}

func (e *ViolationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at %s", e.Err, e.Address)
	}
	return fmt.Sprintf("%v at %s: %s", e.Err, e.Address, e.Detail)
}

func (e *ViolationError) Unwrap() error {
	return e.Err
}

func violation(err error, addr address.Address, format string, args ...interface{}) error {
	return &ViolationError{Err: err, Address: addr, Detail: fmt.Sprintf(format, args...)}
}
