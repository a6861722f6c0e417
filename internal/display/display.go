// Package display provides the terminal console using Bubble Tea.
//
// The [UI] type keeps a live session status bar and an input prompt at the
// bottom of the terminal. All application output is printed above the
// rendered area via Program.Println / Printf, so concurrent writes never
// garble the display.
package display

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hammamikhairi/voxengine/internal/domain"
)

// ── Styles ───────────────────────────────────────────────────────

var (
	barBg = lipgloss.NewStyle().
		Background(lipgloss.Color("#27272a")).
		Foreground(lipgloss.Color("#a1a1aa"))

	stateStyles = map[domain.State]lipgloss.Style{
		domain.StateIdle:       lipgloss.NewStyle().Foreground(lipgloss.Color("#a1a1aa")),
		domain.StateListening:  lipgloss.NewStyle().Foreground(lipgloss.Color("#bbf7d0")).Bold(true),
		domain.StateProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("#fde68a")),
		domain.StateSpeaking:   lipgloss.NewStyle().Foreground(lipgloss.Color("#bae6fd")).Bold(true),
		domain.StateError:      lipgloss.NewStyle().Foreground(lipgloss.Color("#fca5a5")).Bold(true),
	}

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a1a1aa"))

	transcriptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8")).
			Italic(true)

	sepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#52525b"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	// bannerStyle is the muted slate used for the startup banner.
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	chatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bae6fd"))

	primaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8"))

	secondaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a"))

	urgentOutputStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#fca5a5"))

	userInputEchoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#a1a1aa"))
)

// promptText is plain so the textinput width math stays correct; styled
// prompts add ANSI bytes that break its offset calculations.
const promptText = "vox> "

// Status is what the status bar shows.
type Status struct {
	State      domain.State
	Screen     string
	Transcript string
	Pending    int
	Language   string
}

// StatusFunc reports the current status. It is polled on every tick.
type StatusFunc func() Status

// ── UI ───────────────────────────────────────────────────────────

// UI manages the terminal through Bubble Tea.
//
// Call [NewUI] then [UI.Run] (blocking). Other goroutines may safely call
// the print helpers and read from [UI.InputChan] at any time after
// [UI.WaitReady] returns.
type UI struct {
	program *tea.Program
	status  StatusFunc
	inputCh chan string
	readyCh chan struct{}
	quitCh  chan struct{}
	done    atomic.Bool
}

// NewUI creates the display. Call Run to start.
func NewUI(status StatusFunc) *UI {
	return &UI{
		status:  status,
		inputCh: make(chan string, 16),
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// Println prints a line above the prompt. Before the program starts it
// falls back to fmt.Println.
func (u *UI) Println(a ...any) {
	if u.program != nil && !u.done.Load() {
		u.program.Println(a...)
	} else {
		fmt.Println(a...)
	}
}

// Printf prints formatted text above the prompt on its own line.
func (u *UI) Printf(format string, a ...any) {
	if u.program != nil && !u.done.Load() {
		u.program.Printf(format, a...)
	} else {
		fmt.Printf(format+"\n", a...)
	}
}

// InputChan returns completed user-input lines.
func (u *UI) InputChan() <-chan string { return u.inputCh }

// ── Styled print helpers ─────────────────────────────────────────

// PrintChat prints a line the assistant says.
func (u *UI) PrintChat(text string) {
	u.Println(chatStyle.Render("  " + text))
}

// PrintInfo prints primary informational text.
func (u *UI) PrintInfo(text string) {
	u.Println(primaryStyle.Render("  " + text))
}

// PrintHint prints a secondary, dimmed line.
func (u *UI) PrintHint(text string) {
	u.Println(secondaryStyle.Render("  " + text))
}

// PrintUrgent prints an error line.
func (u *UI) PrintUrgent(text string) {
	u.Println(urgentOutputStyle.Render("  " + text))
}

// PrintVoice prints a recognised utterance.
func (u *UI) PrintVoice(text string) {
	u.Println(secondaryStyle.Render("[voice] ") + primaryStyle.Render(text))
}

// PrintUserInput echoes typed input into the scrollback.
func (u *UI) PrintUserInput(text string) {
	u.Println(promptStyle.Render("vox") + secondaryStyle.Render("> ") + userInputEchoStyle.Render(text))
}

// OnEvent renders session events into the scrollback and refreshes the
// status bar. It implements domain.Observer.
func (u *UI) OnEvent(ev domain.Event) {
	switch e := ev.(type) {
	case domain.FinalResult:
		u.PrintVoice(e.Text)
	case domain.Feedback:
		u.PrintChat(e.Text)
	case domain.ErrorReported:
		u.PrintUrgent(fmt.Sprintf("%s error: %s", e.Source, e.Message))
	case domain.CommandHandled:
		u.PrintHint(fmt.Sprintf("%s (%s, %.2f)", e.Command.Intent, e.Status, e.Command.Confidence))
	}
	u.Refresh()
}

// Refresh asks the status bar to redraw now instead of on the next tick.
func (u *UI) Refresh() {
	if u.program != nil && !u.done.Load() {
		u.program.Send(refreshMsg{})
	}
}

// WaitReady blocks until the Bubble Tea event loop is running.
func (u *UI) WaitReady() { <-u.readyCh }

// Quit tells Bubble Tea to exit.
func (u *UI) Quit() {
	if u.program != nil {
		u.program.Quit()
	}
}

// QuitChan is closed when Run returns.
func (u *UI) QuitChan() <-chan struct{} { return u.quitCh }

// Run starts the Bubble Tea event loop. Blocks until quit.
func (u *UI) Run() error {
	ti := textinput.New()
	ti.Prompt = promptText
	ti.PromptStyle = promptStyle
	ti.TextStyle = userInputEchoStyle
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60 // updated on first WindowSizeMsg

	m := model{
		status:  u.status,
		input:   ti,
		inputCh: u.inputCh,
		readyCh: u.readyCh,
		echoFn:  u.PrintUserInput,
	}

	u.program = tea.NewProgram(m)
	_, err := u.program.Run()
	u.done.Store(true)
	close(u.quitCh)
	return err
}

// ── Bubble Tea model ─────────────────────────────────────────────

type model struct {
	status  StatusFunc
	input   textinput.Model
	inputCh chan<- string
	readyCh chan struct{}
	echoFn  func(string)
	current Status
	width   int
}

type (
	tickMsg    time.Time
	refreshMsg struct{}
)

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tickCmd(),
		signalReady(m.readyCh),
	)
}

func signalReady(ch chan struct{}) tea.Cmd {
	return func() tea.Msg {
		close(ch)
		return nil
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			v := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			// An empty line is the push-to-talk key.
			m.inputCh <- v
			if v == "" {
				return m, nil
			}
			// Print the echo from a Cmd so it runs outside Update.
			echoFn := m.echoFn
			return m, func() tea.Msg {
				echoFn(v)
				return nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > len(promptText) {
			m.input.Width = msg.Width - len(promptText)
		}
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tea.Batch(tickCmd(), tea.SetWindowTitle(m.titleStr()))

	case refreshMsg:
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) refresh() {
	if m.status != nil {
		m.current = m.status()
	}
}

func (m model) titleStr() string {
	return "VoxEngine: " + m.current.State.String()
}

func (m model) View() string {
	var b strings.Builder
	if m.status != nil {
		b.WriteString(m.renderBar())
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	return b.String()
}

func (m model) renderBar() string {
	st := m.current
	style, ok := stateStyles[st.State]
	if !ok {
		style = labelStyle
	}

	parts := []string{
		style.Render(strings.ToUpper(st.State.String())),
		labelStyle.Render("screen: " + orDash(st.Screen)),
	}
	if st.Language != "" {
		parts = append(parts, labelStyle.Render(st.Language))
	}
	if st.Pending > 0 {
		parts = append(parts, labelStyle.Render(fmt.Sprintf("queued: %d", st.Pending)))
	}
	if st.Transcript != "" {
		parts = append(parts, transcriptStyle.Render(truncate(st.Transcript, 48)))
	}

	content := " " + strings.Join(parts, sepStyle.Render("  │  ")) + " "

	w := m.width
	if w <= 0 {
		w = 80
	}
	return barBg.Width(w).Render(content)
}

// ── Helpers ──────────────────────────────────────────────────────

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
