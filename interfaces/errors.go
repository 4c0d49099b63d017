package interfaces

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services and controllers
var (
	ErrNotConnected    = errors.New("not connected to Interactive Brokers")
	ErrNoAccountData   = errors.New("account summary unavailable")
	ErrNoSmartChain    = errors.New("no SMART option parameters")
	ErrNoPrice         = errors.New("no market price")
	ErrHistoryDisabled = errors.New("snapshot history disabled")
)

// BrokerError wraps a failed broker call with the operation that issued it
type BrokerError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *BrokerError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("broker %s [%s]: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError
func NewBrokerError(op, symbol string, err error) *BrokerError {
	return &BrokerError{Op: op, Symbol: symbol, Err: err}
}
