package supervisor

import (
	"fmt"

	"github.com/go-errors/errors"

	"github.com/protonvpn/protonvpn-nm-core/internal/nm"
)

// ErrConnectionMissing is returned when no ProtonVPN connection exists
var ErrConnectionMissing = errors.New("no ProtonVPN connection found")

// ErrNotSetUp is returned when Connect is called before Setup
var ErrNotSetUp = errors.New("the connection was not set up")

// ImportConnectionError is returned when NetworkManager could not import the configuration
type ImportConnectionError struct {
	Err error
}

func (e *ImportConnectionError) Error() string {
	return "failed importing the VPN connection: " + e.Err.Error()
}

func (e *ImportConnectionError) Unwrap() error {
	return e.Err
}

// StartConnectionFinishError is returned when the activation did not reach the active state
type StartConnectionFinishError struct {
	State  nm.VPNState
	Reason nm.VPNReason
	Err    error
}

func (e *StartConnectionFinishError) Error() string {
	if e.Err != nil {
		return "failed starting the VPN connection: " + e.Err.Error()
	}
	return fmt.Sprintf("failed starting the VPN connection, state %s with reason %s", e.State, e.Reason)
}

func (e *StartConnectionFinishError) Unwrap() error {
	return e.Err
}
