package cliutil

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var labelPalette = []lipgloss.Color{"14", "10", "11", "13", "12", "6", "2", "3", "5", "4"}

// ColorEnabled resolves a colour mode (auto, always, never) for w. Auto
// colours terminals unless NO_COLOR is set.
func ColorEnabled(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal(w)
}

// Prefixer colours output labels. Each label keeps the colour it was first
// given; the launch name is rendered bold.
type Prefixer struct {
	renderer *lipgloss.Renderer
	enabled  bool
	name     string

	mu     sync.Mutex
	styles map[string]lipgloss.Style
}

// NewPrefixer returns a prefixer rendering for w. When enabled is false
// labels pass through unchanged.
func NewPrefixer(w io.Writer, name string, enabled bool) *Prefixer {
	renderer := lipgloss.NewRenderer(w)
	if enabled {
		renderer.SetColorProfile(termenv.ANSI256)
	} else {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &Prefixer{
		renderer: renderer,
		enabled:  enabled,
		name:     name,
		styles:   make(map[string]lipgloss.Style),
	}
}

// Enabled reports whether labels are coloured.
func (p *Prefixer) Enabled() bool {
	return p.enabled
}

// Label renders label in its colour.
func (p *Prefixer) Label(label string) string {
	if !p.enabled {
		return label
	}
	p.mu.Lock()
	style, ok := p.styles[label]
	if !ok {
		if label == p.name {
			style = p.renderer.NewStyle().Bold(true)
		} else {
			style = p.renderer.NewStyle().Foreground(labelPalette[p.assigned()%len(labelPalette)])
		}
		p.styles[label] = style
	}
	p.mu.Unlock()
	return style.Render(label)
}

func (p *Prefixer) assigned() int {
	n := len(p.styles)
	if _, ok := p.styles[p.name]; ok {
		n--
	}
	return n
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
