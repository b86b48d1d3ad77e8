package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/PabloGalante/clevercompass/internal/app/conversation"
	"github.com/PabloGalante/clevercompass/internal/attachment"
	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

const helpText = "Enter sends · /subject <math|physics|chemistry> · /attach <path> · /detach · /quit"

// FileEncoder reads an image file from disk into an encoded image.
type FileEncoder interface {
	EncodeFile(ctx context.Context, path string) (domain.EncodedImage, error)
}

// sessionChangedMsg tells the model to re-read the session snapshot.
type sessionChangedMsg struct{}

// Model is the terminal front end of one chat session.
type Model struct {
	sess  *conversation.Session
	files FileEncoder

	changed     chan struct{}
	unsubscribe func()

	snap     domain.Snapshot
	rendered map[domain.MessageID]string
	renderer *glamour.TermRenderer

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	status    string
	statusErr bool
	width     int
	height    int
	quitting  bool
}

// New subscribes to sess; call Close when the program ends.
func New(sess *conversation.Session, files FileEncoder) *Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask your tutor..."
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		sess:     sess,
		files:    files,
		changed:  make(chan struct{}, 1),
		rendered: make(map[domain.MessageID]string),
		renderer: newRenderer(80),
		input:    ti,
		viewport: vp,
		spinner:  sp,
		width:    80,
		height:   24,
		status:   helpText,
	}

	// must not block: the session delivers every change from one loop
	m.unsubscribe = sess.Subscribe(func(domain.Snapshot) {
		select {
		case m.changed <- struct{}{}:
		default:
		}
	})

	m.snap = sess.Snapshot()
	m.refreshViewport()
	return m
}

// Close removes the session subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		observability.Logger().Warn("markdown renderer unavailable", "error", err)
		return nil
	}
	return r
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changed
		return sessionChangedMsg{}
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForChange())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case sessionChangedMsg:
		m.snap = m.sess.Snapshot()
		m.refreshViewport()
		cmds = append(cmds, m.waitForChange())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			cmd := m.submit(line)
			m.snap = m.sess.Snapshot()
			m.refreshViewport()
			return m, cmd
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit runs a slash command or sends the line to the tutor.
func (m *Model) submit(line string) tea.Cmd {
	trimmed := strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/quit", "/exit":
		m.quitting = true
		return tea.Quit

	case "/help":
		m.setStatus(helpText, false)

	case "/subject":
		subject, err := domain.ParseSubject(arg)
		if err != nil || arg == "" {
			m.setStatus("Choose one of: math, physics, chemistry", true)
			return nil
		}
		if err := m.sess.SelectSubject(subject); err != nil {
			m.setError(err)
			return nil
		}
		m.setStatus(fmt.Sprintf("Switched to %s", subject), false)

	case "/attach":
		if arg == "" {
			m.setStatus("Usage: /attach <path to image>", true)
			return nil
		}
		img, err := m.files.EncodeFile(context.Background(), arg)
		if err != nil {
			m.setError(err)
			return nil
		}
		if err := m.sess.SetAttachment(img); err != nil {
			m.setError(err)
			return nil
		}
		m.setStatus("Attached "+filepath.Base(arg)+" (sent with your next message)", false)

	case "/detach":
		m.sess.RemoveAttachment()
		m.setStatus("Attachment removed", false)

	default:
		if _, err := m.sess.Send(context.Background(), line); err != nil {
			m.setError(err)
			return nil
		}
		m.setStatus(helpText, false)
	}
	return nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m *Model) setError(err error) {
	switch {
	case errors.Is(err, domain.ErrAwaitingReply):
		m.setStatus("Please wait for the tutor to finish answering", true)
	case errors.Is(err, domain.ErrEmptyMessage):
		m.setStatus("Type a question or attach an image first", true)
	case attachment.IsUnsupported(err):
		m.setStatus("Only image files can be attached", true)
	default:
		m.setStatus(err.Error(), true)
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	// header, divider, status, input
	vpHeight := height - 5
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.input.Width = width - 4

	m.renderer = newRenderer(max(20, width-4))
	clear(m.rendered)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	var b strings.Builder
	for _, msg := range m.snap.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	if m.snap.AwaitingReply {
		b.WriteString(tutorLabel.Render("Tutor") + " " + statusStyle.Render("is thinking..."))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessage(msg domain.Message) string {
	if msg.Role == domain.RoleUser {
		var b strings.Builder
		b.WriteString(userLabel.Render("You"))
		if !msg.Image.IsZero() {
			b.WriteString(" " + imageTag.Render("[image]"))
		}
		if msg.Text != "" {
			b.WriteString("\n" + msg.Text)
		}
		b.WriteString("\n")
		return b.String()
	}

	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	body := msg.Text
	if m.renderer != nil {
		if r, err := m.renderer.Render(msg.Text); err == nil {
			body = r
		}
	}
	out := tutorLabel.Render("Tutor") + "\n" + strings.TrimRight(body, "\n") + "\n"
	m.rendered[msg.ID] = out
	return out
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	tabs := []string{titleStyle.Render("CleverCompass")}
	for _, s := range domain.Subjects() {
		if s == m.snap.Subject {
			tabs = append(tabs, activeSubjectStyle.Render(string(s)))
		} else {
			tabs = append(tabs, subjectStyle.Render(string(s)))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	status := statusStyle.Render(m.status)
	if m.statusErr {
		status = errorStyle.Render(m.status)
	}
	if m.snap.AwaitingReply {
		status = m.spinner.View() + " " + status
	}
	if !m.snap.Attachment.IsZero() {
		status = imageTag.Render("[image attached]") + " " + status
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		dividerStyle.Render(strings.Repeat("─", max(1, m.width))),
		status,
		m.input.View(),
	)
}

// Run drives sess in the terminal until the user quits.
func Run(sess *conversation.Session, files FileEncoder) error {
	m := New(sess, files)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running terminal ui: %w", err)
	}
	return nil
}
