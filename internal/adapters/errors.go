package adapters

import "errors"

// ErrAdapterUnreachable is wrapped by adapter implementations when the
// underlying transport (TCP socket, MQTT client, HTTP client) cannot reach
// the device at all, as distinct from the device replying with an error.
var ErrAdapterUnreachable = errors.New("adapter: device unreachable")
