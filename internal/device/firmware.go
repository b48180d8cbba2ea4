package device

import (
	"fmt"

	"github.com/samcharles93/gpufence/pkg/ufo"
)

// Command is a unit of work for the simulated firmware. It runs once every
// wait counter has reached its value, then writes every update.
type Command struct {
	Queue   string
	Name    string
	Waits   ufo.List
	Updates ufo.List
}

// Submit validates cmd, appends it to its queue and kicks the firmware.
func (d *Device) Submit(cmd Command) error {
	for _, addr := range cmd.Waits.Addrs {
		if _, err := d.slot(addr); err != nil {
			return fmt.Errorf("submit %q wait: %w", cmd.Name, err)
		}
	}
	for _, addr := range cmd.Updates.Addrs {
		if _, err := d.slot(addr); err != nil {
			return fmt.Errorf("submit %q update: %w", cmd.Name, err)
		}
	}

	d.fwMu.Lock()
	d.queues[cmd.Queue] = append(d.queues[cmd.Queue], cmd)
	d.submitted++
	d.fwMu.Unlock()

	d.CheckStatus()
	return nil
}

// CheckStatus re-evaluates every queue and retires commands whose waits are
// now met. Each queue is in-order: a blocked head blocks the commands behind
// it. When anything retired, command-complete notifiers run.
func (d *Device) CheckStatus() {
	d.checkStatusCalls.Add(1)
	if d.closed.Load() {
		return
	}
	if n := d.retire(); n > 0 {
		d.log.Debug("firmware retired commands", "count", n)
		d.NotifyCmdComplete()
	}
}

func (d *Device) retire() int {
	d.fwMu.Lock()
	defer d.fwMu.Unlock()

	total := 0
	for progress := true; progress; {
		progress = false
		for name, q := range d.queues {
			n := 0
			for n < len(q) && d.waitsMet(&q[n]) {
				d.applyUpdates(&q[n])
				n++
			}
			if n == 0 {
				continue
			}
			progress = true
			total += n
			if n == len(q) {
				delete(d.queues, name)
			} else {
				d.queues[name] = q[n:]
			}
		}
	}
	d.executed += uint64(total)
	return total
}

// waitsMet uses wraparound-safe ordering: a counter that moved past the
// awaited value still satisfies the wait.
func (d *Device) waitsMet(cmd *Command) bool {
	for i, addr := range cmd.Waits.Addrs {
		cur, err := d.Value(addr)
		if err != nil {
			return false
		}
		if int32(cur-cmd.Waits.Values[i]) < 0 {
			return false
		}
	}
	return true
}

func (d *Device) applyUpdates(cmd *Command) {
	for i, addr := range cmd.Updates.Addrs {
		_ = d.SetValue(addr, cmd.Updates.Values[i])
	}
}
