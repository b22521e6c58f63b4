package hotkey

import (
	"context"
	"errors"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// ErrCaptureAborted is returned by a capture closed before a shortcut was
// completed.
var ErrCaptureAborted = errors.New("hotkey capture aborted")

// CaptureScope records the shortcut the user presses. It streams the live
// combination on Updates and completes once every key is released after a
// non-modifier key was part of the combination.
type CaptureScope struct {
	guard *HookGuard

	mu      sync.Mutex
	closed  bool
	updates chan Shortcut
	done    chan struct{}
	result  Shortcut
	err     error

	// touched only from the hook lane
	held    map[xproto.Keycode]Modifier
	current Shortcut
}

// StartCapture installs a keyboard hook that records a shortcut. Only one
// keyboard hook can be active, so a running picker loses its keyboard hook.
func (r *Registry) StartCapture() (*CaptureScope, error) {
	cs := &CaptureScope{
		updates: make(chan Shortcut, 32),
		done:    make(chan struct{}),
		held:    make(map[xproto.Keycode]Modifier),
	}
	guard, err := r.GrabKeyHook(cs.onKey)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	cs.guard = guard
	closed := cs.closed
	cs.mu.Unlock()
	if closed {
		guard.Release()
	}
	return cs, nil
}

func (cs *CaptureScope) onKey(ev KeyEvent) {
	mod, isMod := ModifierForKey(ev.Key)

	if ev.Pressed {
		if _, down := cs.held[ev.Code]; down {
			// autorepeat
			return
		}
		cs.held[ev.Code] = mod
		if isMod {
			cs.current.Modifiers |= mod
		} else {
			cs.current.Key = NormalizeKey(ev.Key)
			cs.current.Modifiers |= ev.Modifiers
		}
		cs.publish(cs.current)
		return
	}

	delete(cs.held, ev.Code)
	if len(cs.held) > 0 {
		return
	}
	if cs.current.Complete() {
		cs.finish(cs.current, nil)
		return
	}
	// modifier-only combination: start over
	cs.current = Shortcut{}
	cs.publish(cs.current)
}

func (cs *CaptureScope) publish(sc Shortcut) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return
	}
	select {
	case cs.updates <- sc:
	default:
		logger.WithComponent("hotkey").Debug().Str("shortcut", sc.String()).Msg("Capture update dropped, reader busy")
	}
}

func (cs *CaptureScope) finish(sc Shortcut, err error) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	cs.result, cs.err = sc, err
	guard := cs.guard
	close(cs.updates)
	cs.mu.Unlock()

	guard.Release()
	close(cs.done)
}

// Updates streams the combination as it is typed. It is closed when the
// capture ends.
func (cs *CaptureScope) Updates() <-chan Shortcut { return cs.updates }

// Done is closed when the capture ends.
func (cs *CaptureScope) Done() <-chan struct{} { return cs.done }

// Result returns the captured shortcut once Done is closed.
func (cs *CaptureScope) Result() (Shortcut, error) {
	select {
	case <-cs.done:
	default:
		return Shortcut{}, errors.New("hotkey capture still running")
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.result, cs.err
}

// Wait blocks until the capture ends or ctx is done. A canceled context
// aborts the capture.
func (cs *CaptureScope) Wait(ctx context.Context) (Shortcut, error) {
	select {
	case <-cs.done:
	case <-ctx.Done():
		cs.Close()
		<-cs.done
	}
	return cs.Result()
}

// Close aborts the capture. It is a no-op after completion.
func (cs *CaptureScope) Close() {
	cs.finish(Shortcut{}, ErrCaptureAborted)
}
