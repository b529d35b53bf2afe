package repository

// ConnectivityMonitor reports network reachability changes. Readings may
// repeat; consumers must tolerate duplicates.
type ConnectivityMonitor interface {
	Subscribe(fn func(online bool)) (unsubscribe func())
}
