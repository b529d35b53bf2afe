package entity

type ConnectivityState int

const (
	ConnectivityUnknown ConnectivityState = iota
	ConnectivityOnline
	ConnectivityOffline
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityOnline:
		return "online"
	case ConnectivityOffline:
		return "offline"
	default:
		return "unknown"
	}
}

func (s ConnectivityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectivityState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "online":
		*s = ConnectivityOnline
	case "offline":
		*s = ConnectivityOffline
	default:
		*s = ConnectivityUnknown
	}
	return nil
}

// ConnectivityFromBool maps a monitor reading to a state.
func ConnectivityFromBool(online bool) ConnectivityState {
	if online {
		return ConnectivityOnline
	}
	return ConnectivityOffline
}
