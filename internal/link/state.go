package link

// ConnectionState describes the current link status.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateServicesDiscovering
	StateReady
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateServicesDiscovering:
		return "services_discovering"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}
