package domain

import "github.com/pkg/errors"

var (
	// ErrDataUnavailable market data could not be fetched or is stale.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrBrokerTransient temporary broker failure, safe to retry.
	ErrBrokerTransient = errors.New("transient broker error")
	// ErrBrokerFatal broker failure that requires operator attention.
	ErrBrokerFatal = errors.New("fatal broker error")
	// ErrOrderRejected broker refused the order.
	ErrOrderRejected = errors.New("order rejected")
	// ErrPositionNotFound broker does not know the position.
	ErrPositionNotFound = errors.New("position not found")
	ErrConfigInvalid    = errors.New("invalid config")
)
