// Package apperr defines the failure kinds surfaced by the pantry service.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindEmptyCart          Kind = "empty_cart"
	KindItemGone           Kind = "item_gone"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindInternal           Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string

	// Set for stock related failures.
	ItemID    string
	Available int
	Requested int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func ItemNotFound(itemID string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("item %s not found", itemID), ItemID: itemID}
}

func InsufficientStock(itemID string, available, requested int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for item %s: available %d, requested %d", itemID, available, requested),
		ItemID:    itemID,
		Available: available,
		Requested: requested,
	}
}

func EmptyCart(userID string) *Error {
	return &Error{Kind: KindEmptyCart, Message: fmt.Sprintf("cart of %s is empty", userID)}
}

func ItemGone(itemID string) *Error {
	return &Error{Kind: KindItemGone, Message: fmt.Sprintf("item %s no longer exists", itemID), ItemID: itemID}
}

// Unavailable wraps a transient infrastructure failure. Nothing was
// committed, so the whole request may be retried as is.
func Unavailable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

// Wrap attaches kind to err unless err already carries one.
func Wrap(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller may resend the same request.
func Retryable(err error) bool {
	return Is(err, KindStorageUnavailable)
}
