package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind classifies a failed register read.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindTransport
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Retryable reports whether the failure is a transient device or link condition.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindTransport || k == KindProtocol
}

// Error is returned by Session for every failed operation.
type Error struct {
	Kind    Kind
	Op      string
	Address uint16
	// Exception is set when the device answered with a Modbus exception
	// response; the connection is still in sync in that case.
	Exception bool
	Err       error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("modbus %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("modbus %s at %d: %s error: %v", e.Op, e.Address, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// keepsConnection reports whether the link survived the failure.
func (e *Error) keepsConnection() bool {
	return e.Kind == KindProtocol && e.Exception
}

// KindOf returns the classification carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

func exception(err error) error {
	return &Error{Kind: KindProtocol, Exception: true, Err: err}
}

func malformed(err error) error {
	return &Error{Kind: KindProtocol, Err: err}
}

func classified(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// classify maps driver and network errors that were not already tagged by a
// driver.
func classify(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return KindTransport
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransport
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindTransport
	}

	return KindUnknown
}

// wrap turns any error into an *Error carrying op and address.
func wrap(op string, address uint16, err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return &Error{
			Kind:      me.Kind,
			Op:        op,
			Address:   address,
			Exception: me.Exception,
			Err:       me.Err,
		}
	}
	return &Error{Kind: classify(err), Op: op, Address: address, Err: err}
}
