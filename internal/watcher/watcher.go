// Package watcher observes an external piece of state (typically a tab's
// navigable location) for changes and reports each change after a settle
// delay, giving the page time to mount its player before anything attaches.
package watcher

import (
	"sync"
	"time"
)

// Source reads the current value of the observed state.
type Source func() (string, error)

// Watcher polls a Source and invokes the callback once per observed change.
// The settle delay is policy, not correctness: callers should treat delivery
// as "eventually after the change", never as immediate.
type Watcher struct {
	source   Source
	interval time.Duration
	settle   time.Duration
	onChange func(value string)

	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	last string
}

func New(source Source, interval, settle time.Duration, onChange func(string)) *Watcher {
	return &Watcher{
		source:   source,
		interval: interval,
		settle:   settle,
		onChange: onChange,
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
}

// Errors returns the channel of source read errors. Reads that fail are
// skipped, never fatal; the next tick retries.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins polling. The initial value is observed and reported too, so a
// page already loaded when the watcher starts still opens a session.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts polling and waits for the loop to exit. No callback fires after
// Stop returns.
func (w *Watcher) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			current, err := w.source()
			if err != nil {
				select {
				case w.errors <- err:
				default:
				}
				continue
			}
			if current == w.last {
				continue
			}
			w.last = current

			// Let the new page settle before reporting; re-read so a
			// change during the delay is not reported twice.
			select {
			case <-w.done:
				return
			case <-time.After(w.settle):
			}
			if settled, err := w.source(); err == nil {
				current = settled
				w.last = settled
			}
			w.onChange(current)
		}
	}
}
