package display

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

//go:embed banner.txt
var bannerRaw string

// BannerInfo is the startup summary printed under the banner art.
type BannerInfo struct {
	Session string // session id
	Input   string // recognition engine
	Output  string // speech engine
	Store   string
	Hint    string // how to drive the console
	Server  string // diagnostics address, empty when off
}

// lines renders the summary rows, skipping empty fields.
func (i BannerInfo) lines() []string {
	var out []string
	if i.Input != "" || i.Output != "" {
		out = append(out, fmt.Sprintf("input %s · output %s", i.Input, i.Output))
	}
	if i.Store != "" {
		out = append(out, "store "+i.Store)
	}
	if i.Session != "" {
		out = append(out, "session "+i.Session)
	}
	if i.Server != "" {
		out = append(out, "diagnostics on http://"+i.Server)
	}
	if i.Hint != "" {
		out = append(out, "", i.Hint)
	}
	return out
}

// RenderBanner returns the banner art and the startup summary, each block
// centred for the given width. A width of zero uses the terminal's.
func RenderBanner(info BannerInfo, width int) string {
	if width <= 0 {
		width = termWidth()
	}

	var b strings.Builder
	art := strings.Split(strings.TrimRight(bannerRaw, "\n"), "\n")
	writeCentred(&b, art, width, bannerStyle)
	if rows := info.lines(); len(rows) > 0 {
		b.WriteByte('\n')
		writeCentred(&b, rows, width, secondaryStyle)
	}
	return b.String()
}

// writeCentred pads every line by the same amount so the block keeps its
// own alignment.
func writeCentred(b *strings.Builder, lines []string, width int, style lipgloss.Style) {
	block := 0
	for _, l := range lines {
		block = max(block, lipgloss.Width(l))
	}
	pad := ""
	if width > block {
		pad = strings.Repeat(" ", (width-block)/2)
	}
	for _, l := range lines {
		if l != "" {
			b.WriteString(pad)
			b.WriteString(style.Render(l))
		}
		b.WriteByte('\n')
	}
}

// termWidth returns the current terminal column count, or 80 as fallback.
func termWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 80
}
