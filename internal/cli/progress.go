package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/gridlink-labs/gridlink/internal/events"
)

// renderer consumes engine events and draws them on stderr: a progress
// bar for file transfers, plain lines for everything else. JSON mode
// suppresses all drawing so stdout stays machine-readable.
type renderer struct {
	bus   *events.EventBus
	quiet bool

	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	barStep string

	done chan struct{}
	wg   sync.WaitGroup
}

// startRenderer subscribes to the bus and renders until stopped.
func startRenderer(bus *events.EventBus, quiet bool) *renderer {
	r := &renderer{bus: bus, quiet: quiet, done: make(chan struct{})}
	ch := bus.SubscribeAll()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.handle(ev)
			case <-r.done:
				return
			}
		}
	}()
	return r
}

// stop ends rendering and clears any unfinished bar.
func (r *renderer) stop() {
	close(r.done)
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeBar()
}

func (r *renderer) handle(ev events.Event) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case *events.ProgressEvent:
		if e.Percent >= 0 {
			key := e.JobID + "/" + e.Step + "/" + e.Message
			if r.bar == nil || r.barStep != key {
				r.closeBar()
				r.barStep = key
				r.bar = progressbar.NewOptions(100,
					progressbar.OptionSetDescription(e.Message),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetWidth(40),
					progressbar.OptionThrottle(100),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = r.bar.Set(int(e.Percent))
			if e.Percent >= 100 {
				r.closeBar()
				fmt.Fprintf(os.Stderr, "  done: %s\n", e.Message)
			}
			return
		}
		r.closeBar()
		fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Chain, e.Message)

	case *events.StateChangeEvent:
		r.closeBar()
		if e.OldStatus == "" {
			fmt.Fprintf(os.Stderr, "job %s (%s): %s\n", e.JobID, e.JobName, e.NewStatus)
			return
		}
		fmt.Fprintf(os.Stderr, "job %s (%s): %s -> %s\n", e.JobID, e.JobName, e.OldStatus, e.NewStatus)

	case *events.ErrorEvent:
		r.closeBar()
		fmt.Fprintf(os.Stderr, "error in %s/%s: %v\n", e.Chain, e.Step, e.Err)
	}
}

// closeBar finishes the current bar if one is on screen. Caller holds
// the lock.
func (r *renderer) closeBar() {
	if r.bar != nil {
		_ = r.bar.Close()
		r.bar = nil
		r.barStep = ""
	}
}
