package retry

import "fmt"

// CommunicationError reports a read that kept failing on timeouts, transport
// failures or device error responses until the attempt ceiling was reached.
type CommunicationError struct {
	Address  uint16
	Count    uint16
	Attempts int
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication with inverter failed reading register %d after %d attempts: %v",
		e.Address, e.Attempts, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// ClientError reports a failure outside the retryable classification.
type ClientError struct {
	Address uint16
	Err     error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("unexpected error reading register %d: %v", e.Address, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}
