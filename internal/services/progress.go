package services

// Progress is a single progress notification emitted by long-running
// operations (device authorization polling, uploads, transcode polling).
type Progress struct {
	Stage   string
	Message string
	// Percent is in [0,100], or negative when unknown.
	Percent float64
	// Item identifies the file or card the update refers to, when any.
	Item string
}

// Report delivers p on ch without blocking. Slow consumers miss updates
// rather than stalling the operation.
func Report(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}
