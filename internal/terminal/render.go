package terminal

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"crateclash/internal/client"
	"crateclash/internal/sim"
)

const (
	glyphSelf          = "@"
	glyphSquare        = "O"
	glyphSyncedCrate   = "#"
	glyphDesyncedCrate = "%"
	glyphGhost         = "."
)

var (
	statusStyle  = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	consoleStyle = tcell.StyleDefault.Foreground(tcell.ColorSilver)
	borderStyle  = tcell.StyleDefault.Foreground(tcell.ColorGray)
	ghostStyle   = tcell.StyleDefault.Foreground(tcell.ColorGray)
)

// Renderer draws a client.View onto a tcell screen. Row 0 is a status line;
// the rest holds either the console (before joining) or the scaled arena.
type Renderer struct {
	screen tcell.Screen
	// Width and Height are the world extent mapped onto the screen.
	Width  float64
	Height float64
	// ShowAuthoritative overlays the authoritative state under the prediction.
	ShowAuthoritative bool
	// AfterRender runs once the frame is on screen.
	AfterRender func()
}

func NewRenderer(screen tcell.Screen) *Renderer {
	return &Renderer{
		screen:            screen,
		Width:             sim.ArenaWidth,
		Height:            sim.ArenaHeight,
		ShowAuthoritative: true,
	}
}

// Render implements client.Renderer.
func (r *Renderer) Render(view client.View) {
	r.screen.Clear()
	w, h := r.screen.Size()
	if w <= 0 || h <= 0 {
		return
	}
	putText(r.screen, 0, 0, w, statusLine(view), statusStyle)
	if view.Joined {
		r.drawArena(view, w, h)
	} else {
		r.drawConsole(view.Console, w, h)
	}
	r.screen.Show()
	if r.AfterRender != nil {
		r.AfterRender()
	}
}

func statusLine(view client.View) string {
	if !view.Joined {
		return fmt.Sprintf("frame %d  connecting", view.Frame)
	}
	return fmt.Sprintf("frame %d  entities %d  arrows/WASD move, space attacks, esc quits",
		view.Frame, len(view.Prediction.Entities))
}

func (r *Renderer) drawConsole(lines []string, w, h int) {
	rows := h - 1
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	for i, line := range lines {
		putText(r.screen, 0, 1+i, w, line, consoleStyle)
	}
}

func (r *Renderer) drawArena(view client.View, w, h int) {
	for x := 0; x < w; x++ {
		r.screen.SetContent(x, 1, '─', nil, borderStyle)
	}
	if h < 3 {
		return
	}
	if r.ShowAuthoritative {
		for _, entity := range view.Authoritative.Entities {
			x, y := r.Project(entity.X, entity.Y)
			putGlyph(r.screen, x, y, glyphGhost, ghostStyle)
		}
	}
	self, hasSelf := sim.EntityID(0), false
	if view.Player.EntityID != nil {
		self, hasSelf = *view.Player.EntityID, true
	}
	for _, entity := range view.Prediction.Entities {
		x, y := r.Project(entity.X, entity.Y)
		glyph, style := entityGlyph(entity, hasSelf && entity.ID == self)
		putGlyph(r.screen, x, y, glyph, style)
	}
}

func entityGlyph(entity sim.Entity, self bool) (string, tcell.Style) {
	switch entity.Type {
	case sim.EntitySquare:
		style := tcell.StyleDefault.Foreground(tcell.ColorWhite)
		glyph := glyphSquare
		if self {
			glyph = glyphSelf
			style = style.Foreground(tcell.ColorYellow)
		}
		if entity.IsAttacking() {
			style = style.Reverse(true)
		}
		return glyph, style
	case sim.EntitySyncedCrate:
		return glyphSyncedCrate, tcell.StyleDefault.Foreground(tcell.ColorGreen)
	default:
		return glyphDesyncedCrate, tcell.StyleDefault.Foreground(tcell.ColorRed)
	}
}

// Project scales world coordinates onto the rows below the status line and
// border.
func (r *Renderer) Project(x, y float64) (int, int) {
	w, h := r.screen.Size()
	rows := h - 2
	col := int(x / r.Width * float64(w-1))
	row := 2 + int(y/r.Height*float64(rows-1))
	return clampInt(col, 0, w-1), clampInt(row, 2, h-1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// putText writes s at (x, y), truncated to the columns left before maxX.
func putText(scr tcell.Screen, x, y, maxX int, s string, st tcell.Style) {
	if x >= maxX {
		return
	}
	s = runewidth.Truncate(s, maxX-x, "…")
	for _, r := range s {
		scr.SetContent(x, y, r, nil, st)
		x += runewidth.RuneWidth(r)
	}
}

func putGlyph(scr tcell.Screen, x, y int, glyph string, style tcell.Style) {
	runes := []rune(glyph)
	if len(runes) == 0 {
		return
	}
	scr.SetContent(x, y, runes[0], runes[1:], style)
	if runewidth.StringWidth(glyph) == 2 {
		scr.SetContent(x+1, y, ' ', nil, style)
	}
}
