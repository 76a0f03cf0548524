// Package safego provides panic-recovering goroutine launchers for background work.
package safego

import (
	"log/slog"
	"sync"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged with the given task name rather than crashing the process.
func Go(name string, fn func()) {
	go run(name, fn)
}

// GoTracked is Go with wg accounting: wg.Add(1) happens before the goroutine
// starts and wg.Done() runs even when fn panics, so wg.Wait() drains every task.
func GoTracked(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(name, fn)
	}()
}

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
		}
	}()
	fn()
}
