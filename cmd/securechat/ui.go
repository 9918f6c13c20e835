package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gen2brain/beeep"

	"github.com/securechat-io/securechat/pkg/client"
	"github.com/securechat-io/securechat/pkg/protocol"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	timeStyle   = lipgloss.NewStyle().Faint(true)
	senderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36"))
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	systemStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type envelopeMsg struct{ env *protocol.Envelope }

type connLostMsg struct{ err error }

type chatModel struct {
	conn     *client.Connection
	viewport viewport.Model
	input    textinput.Model
	lines    []string
	width    int
	height   int
	ready    bool
	lost     bool
}

func newChatModel(conn *client.Connection) chatModel {
	input := textinput.New()
	input.Placeholder = "message (/users, /quit)"
	input.CharLimit = protocol.MaxContentLength
	input.Focus()

	return chatModel{conn: conn, input: input}
}

// waitForEnvelope blocks on the connection until the next envelope or
// the end of the session.
func waitForEnvelope(conn *client.Connection) tea.Cmd {
	return func() tea.Msg {
		env, ok := <-conn.Incoming()
		if !ok {
			select {
			case err := <-conn.Errors():
				return connLostMsg{err: err}
			default:
				return connLostMsg{}
			}
		}
		return envelopeMsg{env: env}
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEnvelope(m.conn))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		chromeHeight := 2 // title and input rows
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chromeHeight
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.conn.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submitInput()
		}

	case envelopeMsg:
		m.appendEnvelope(msg.env)
		return m, waitForEnvelope(m.conn)

	case connLostMsg:
		m.lost = true
		if msg.err != nil {
			m.appendLine(errorStyle.Render(fmt.Sprintf("connection lost: %v", msg.err)))
		} else {
			m.appendLine(systemStyle.Render("disconnected from server"))
		}
		return m, nil
	}

	var inputCmd, viewportCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, viewportCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, viewportCmd)
}

func (m chatModel) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" || m.lost {
		return m, nil
	}

	switch text {
	case "/quit":
		m.conn.SendCommand(protocol.CommandQuit)
		m.conn.Close()
		return m, tea.Quit
	case "/users":
		if err := m.conn.SendCommand(protocol.CommandListUsers); err != nil {
			m.appendLine(errorStyle.Render(fmt.Sprintf("send failed: %v", err)))
		}
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.appendLine(errorStyle.Render(fmt.Sprintf("unknown command %s", text)))
		return m, nil
	}

	// The server echoes the message back; it appears when delivered.
	if err := m.conn.SendChat(text); err != nil {
		m.appendLine(errorStyle.Render(fmt.Sprintf("send failed: %v", err)))
	}
	return m, nil
}

func (m *chatModel) appendEnvelope(env *protocol.Envelope) {
	stamp := timeStyle.Render(time.Unix(int64(env.Timestamp), 0).Format("15:04"))

	switch env.Type {
	case protocol.TypeChat:
		style := senderStyle
		if env.Sender == m.conn.Name() {
			style = selfStyle
		}
		m.appendLine(fmt.Sprintf("%s %s %s", stamp, style.Render(env.Sender+":"), env.Content))
		m.notifyOnMention(env)

	case protocol.TypeSystem:
		m.appendLine(fmt.Sprintf("%s %s", stamp, systemStyle.Render(env.Content)))

	case protocol.TypeError:
		m.appendLine(fmt.Sprintf("%s %s", stamp, errorStyle.Render(env.Content)))

	case protocol.TypeStatus:
		m.appendLine(fmt.Sprintf("%s %s", stamp, systemStyle.Render(env.Sender+" "+env.Content)))
	}
}

// notifyOnMention fires a desktop notification when someone else names
// us in a message.
func (m *chatModel) notifyOnMention(env *protocol.Envelope) {
	name := m.conn.Name()
	if env.Sender == name || !strings.Contains(env.Content, name) {
		return
	}
	_ = beeep.Notify("securechat", fmt.Sprintf("%s: %s", env.Sender, env.Content), "")
}

func (m *chatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshViewport()
}

func (m *chatModel) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "connecting..."
	}
	title := titleStyle.Render(fmt.Sprintf("securechat · %s", m.conn.Name()))
	return fmt.Sprintf("%s\n%s\n%s", title, m.viewport.View(), m.input.View())
}
