package eventlog

// offer performs a non-blocking send.
// It returns false when the channel is full or already closed.
func offer[T any](ch chan<- T, value T) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}
