package link

import "time"

// ConnectionState describes the link lifecycle state exposed to observers.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnStatus is a bus event snapshot of the current link status.
// Connected means the transport is up AND a flight-controller heartbeat was
// seen recently; transport-level connection alone is not enough.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Timestamp     time.Time
}

// RawFrame carries raw packet diagnostics for debug views and logs.
type RawFrame struct {
	Hex string
	Len int
}
