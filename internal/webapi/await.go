package webapi

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/eventloop"
)

// drainSlice bounds how long one Pump iteration drains timers before it
// re-checks the settle condition.
const drainSlice = 10 * time.Millisecond

// Pump runs microtasks and drains the event loop until settled reports
// true, the deadline passes or ctx is done.
func Pump(ctx context.Context, rt core.JSRuntime, el *eventloop.EventLoop, deadline time.Time, settled func() (bool, error)) error {
	for {
		rt.RunMicrotasks()

		done, err := settled()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", core.ErrTimeout, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: promise did not settle", core.ErrTimeout)
		}

		if el != nil && el.HasPending() {
			slice := time.Now().Add(drainSlice)
			if slice.After(deadline) {
				slice = deadline
			}
			el.Drain(rt, slice)
			rt.RunMicrotasks()
			continue
		}
		// Nothing scheduled in the VM; a Go-backed callback may still be
		// about to settle the promise.
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

// AwaitHelper waits for the pending helper result id to settle.
func AwaitHelper(ctx context.Context, rt core.JSRuntime, el *eventloop.EventLoop, id int, deadline time.Time) (*Settlement, error) {
	var result *Settlement
	err := Pump(ctx, rt, el, deadline, func() (bool, error) {
		s, err := Settled(rt, id)
		if err != nil {
			return false, err
		}
		switch s.State {
		case "pending":
			return false, nil
		case "missing":
			return false, fmt.Errorf("async helper result %d is not pending", id)
		}
		result = s
		return true, nil
	})
	return result, err
}
