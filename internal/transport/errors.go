package transport

import "codeberg.org/mutker/frontpanelctl/internal/errors"

const (
	ErrOpenDevice  = errors.ErrOpenDevice
	ErrResetDevice = errors.ErrResetDevice
	ErrNoEndpoint  = errors.ErrorCode("transport_no_endpoint")
)

func init() {
	errors.RegisterMessage(ErrNoEndpoint, "Device has no bulk OUT endpoint")
}
