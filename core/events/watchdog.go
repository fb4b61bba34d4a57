package events

import (
	"github.com/evcc-io/idconnect/core/snapshot"
)

// watch polls the latest snapshot until cond holds or the timeout elapses.
// A running watchdog of the same kind is replaced.
func (d *Detector) watch(vin, kind string, cond func(snapshot.Snapshot) bool, success, timeout string) {
	key := vin + "." + kind

	ticker := d.clock.Ticker(WatchdogInterval)
	deadline := d.clock.Now().Add(d.timeout)
	stop := make(chan struct{})

	d.mu.Lock()
	if old, ok := d.watchdogs[key]; ok {
		close(old)
	}
	d.watchdogs[key] = stop
	d.mu.Unlock()

	d.log.DEBUG.Printf("%s: %s watchdog started", vin, kind)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return

			case <-ticker.C:
				var event string

				if s, ok := d.latest(vin); ok && cond(s) {
					event = success
				} else if !d.clock.Now().Before(deadline) {
					event = timeout
				} else {
					continue
				}

				if d.release(key, stop) {
					d.publish(event, vin, nil)
				}

				return
			}
		}
	}()
}

// release removes the watchdog and returns false if it was already replaced or stopped
func (d *Detector) release(key string, stop chan struct{}) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.watchdogs[key] != stop {
		return false
	}

	delete(d.watchdogs, key)
	return true
}

// Stop cancels all running watchdogs
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, stop := range d.watchdogs {
		close(stop)
		delete(d.watchdogs, key)
	}
}

// Watching returns the number of running watchdogs
func (d *Detector) Watching() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchdogs)
}
