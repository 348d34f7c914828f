// Package terminal is the tcell frontend: it turns terminal key events into
// logical key transitions and draws the session view.
package terminal

import (
	"sync"
	"time"
	"unicode"

	"github.com/gdamore/tcell/v2"

	"crateclash/internal/input"
)

// DefaultHold is how long a key counts as held after its last press or
// auto-repeat. Terminals report no releases, so silence stands in for one.
const DefaultHold = 250 * time.Millisecond

// KeySink receives logical key transitions. client.Session.HandleKey fits.
type KeySink func(key input.Key, isDown bool)

// Keyboard emulates key-down/key-up pairs on top of terminal key presses.
type Keyboard struct {
	mu       sync.Mutex
	bindings input.Bindings
	hold     time.Duration
	sink     KeySink
	held     map[input.Key]time.Time
}

func NewKeyboard(bindings input.Bindings, hold time.Duration, sink KeySink) *Keyboard {
	if bindings == nil {
		bindings = input.DefaultBindings()
	}
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Keyboard{
		bindings: bindings,
		hold:     hold,
		sink:     sink,
		held:     make(map[input.Key]time.Time),
	}
}

// KeyCode converts a terminal key to the browser-style key code used by
// bindings: arrows are 37-40, letters and digits their upper-case code point,
// space 32.
func KeyCode(ev *tcell.EventKey) (int, bool) {
	switch ev.Key() {
	case tcell.KeyLeft:
		return 37, true
	case tcell.KeyUp:
		return 38, true
	case tcell.KeyRight:
		return 39, true
	case tcell.KeyDown:
		return 40, true
	case tcell.KeyRune:
		r := unicode.ToUpper(ev.Rune())
		switch {
		case r == ' ':
			return 32, true
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return int(r), true
		}
	}
	return 0, false
}

// HandleEvent reports a key-down for an unheld bound key and refreshes its
// hold deadline. It returns false for keys without a binding.
func (k *Keyboard) HandleEvent(ev *tcell.EventKey, now time.Time) bool {
	code, ok := KeyCode(ev)
	if !ok {
		return false
	}
	key, ok := k.bindings.Lookup(code)
	if !ok {
		return false
	}
	k.mu.Lock()
	_, wasHeld := k.held[key]
	k.held[key] = now
	k.mu.Unlock()
	if !wasHeld && k.sink != nil {
		k.sink(key, true)
	}
	return true
}

var keyOrder = []input.Key{input.KeyUp, input.KeyDown, input.KeyLeft, input.KeyRight, input.KeyAttack}

// Expire releases every key not seen within the hold window.
func (k *Keyboard) Expire(now time.Time) {
	k.release(func(last time.Time) bool { return now.Sub(last) >= k.hold })
}

// ReleaseAll lifts every held key.
func (k *Keyboard) ReleaseAll() {
	k.release(func(time.Time) bool { return true })
}

func (k *Keyboard) release(due func(last time.Time) bool) {
	var released []input.Key
	k.mu.Lock()
	for _, key := range keyOrder {
		if last, ok := k.held[key]; ok && due(last) {
			delete(k.held, key)
			released = append(released, key)
		}
	}
	k.mu.Unlock()
	if k.sink == nil {
		return
	}
	for _, key := range released {
		k.sink(key, false)
	}
}

func (k *Keyboard) Held(key input.Key) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}
