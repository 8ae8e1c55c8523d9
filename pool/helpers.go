package pool

import (
	"time"
)

// waitUntil blocks until either the done channel is closed or the timeout is reached.
func waitUntil(d <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		<-d
		return nil
	}

	select {
	case <-d:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// allClosed returns a channel closed once every channel in chans is closed.
func allClosed(chans []<-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for _, c := range chans {
			<-c
		}
		close(done)
	}()
	return done
}
