package terminal

import (
	"time"

	"github.com/gdamore/tcell/v2"

	"crateclash/internal/input"
)

type Config struct {
	Bindings input.Bindings
	Hold     time.Duration
	Now      func() time.Time
}

// Terminal couples a screen with its keyboard and renderer. Held keys are
// expired after every rendered frame.
type Terminal struct {
	Screen   tcell.Screen
	Keyboard *Keyboard
	Renderer *Renderer
	now      func() time.Time
}

// New wraps an initialised screen.
func New(screen tcell.Screen, cfg Config, sink KeySink) *Terminal {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	t := &Terminal{
		Screen:   screen,
		Keyboard: NewKeyboard(cfg.Bindings, cfg.Hold, sink),
		Renderer: NewRenderer(screen),
		now:      cfg.Now,
	}
	t.Renderer.AfterRender = func() { t.Keyboard.Expire(t.now()) }
	return t
}

// Open creates and initialises the process terminal.
func Open() (tcell.Screen, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	return screen, nil
}

// Run reads screen events until the screen is finalised. Escape and Ctrl-C
// call quit.
func (t *Terminal) Run(quit func()) {
	for {
		ev := t.Screen.PollEvent()
		if ev == nil {
			return
		}
		switch ev := ev.(type) {
		case *tcell.EventResize:
			t.Screen.Sync()
		case *tcell.EventKey:
			if !t.handleKey(ev) && quit != nil {
				quit()
			}
		}
	}
}

// handleKey returns false when the key asks to quit.
func (t *Terminal) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		t.Keyboard.ReleaseAll()
		return false
	}
	t.Keyboard.HandleEvent(ev, t.now())
	return true
}

// Close restores the terminal and unblocks Run.
func (t *Terminal) Close() {
	t.Screen.Fini()
}
