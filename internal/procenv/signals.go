package procenv

import (
	"os"
	"os/signal"
	"sync"
)

// SignalHandlers describes the dispositions to install for a set of signals.
type SignalHandlers struct {
	Ignore []os.Signal
	Reset  []os.Signal
	Notify map[os.Signal]func(os.Signal)
}

// SetSignalHandlers installs the dispositions in h. Notified signals are
// delivered to their handler on a single dispatch goroutine, one at a time.
// The returned function stops delivery; the dispatcher exits once any handler
// in progress returns. It is safe to call from a handler.
func SetSignalHandlers(h SignalHandlers) (stop func()) {
	if len(h.Ignore) > 0 {
		signal.Ignore(h.Ignore...)
	}
	if len(h.Reset) > 0 {
		signal.Reset(h.Reset...)
	}
	if len(h.Notify) == 0 {
		return func() {}
	}

	handlers := make(map[os.Signal]func(os.Signal), len(h.Notify))
	sigs := make([]os.Signal, 0, len(h.Notify))
	for sig, fn := range h.Notify {
		handlers[sig] = fn
		sigs = append(sigs, sig)
	}

	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				if fn := handlers[sig]; fn != nil {
					fn(sig)
				}
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
