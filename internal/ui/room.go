package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// RoomSnapshot replaces everything the room view shows.
type RoomSnapshot struct {
	Peers  []PeerRow
	Status string
}

type roomClosedMsg struct{}

// RoomModel is the bubbletea model for a joined room.
type RoomModel struct {
	room string
	self string

	peers  []PeerRow
	status string

	spinner spinner.Model
	bar     progress.Model

	updates <-chan RoomSnapshot
	width   int
}

// NewRoomModel creates a model fed from updates. The model quits when
// updates is closed.
func NewRoomModel(room, self string, updates <-chan RoomSnapshot) RoomModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return RoomModel{
		room:    room,
		self:    self,
		status:  "Waiting for others to join...",
		spinner: s,
		bar: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		updates: updates,
		width:   80,
	}
}

func (m RoomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForSnapshot())
}

func (m RoomModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.updates
		if !ok {
			return roomClosedMsg{}
		}
		return snap
	}
}

func (m RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(30, msg.Width-40))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case RoomSnapshot:
		m.peers = msg.Peers
		if msg.Status != "" {
			m.status = msg.Status
		}
		return m, m.waitForSnapshot()

	case roomClosedMsg:
		return m, tea.Quit
	}

	return m, nil
}

func (m RoomModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s meshcall · room %s", IconMesh, m.room)))
	b.WriteString("\n")
	b.WriteString(MutedStyle.Render(fmt.Sprintf("%s you are %s", IconPeer, m.self)))
	b.WriteString("\n\n")

	if len(m.peers) == 0 {
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), m.status))
	} else {
		stable := StableCount(m.peers)
		percent := float64(stable) / float64(len(m.peers))
		b.WriteString(fmt.Sprintf("%s Mesh %s %d/%d stable\n\n", IconConnect, m.bar.ViewAs(percent), stable, len(m.peers)))
		b.WriteString(PeerTableView(m.peers))
		if m.status != "" {
			b.WriteString("\n" + MutedStyle.Render(m.status))
		}
	}

	b.WriteString("\n" + FooterStyle.Render("Press 'q' or Ctrl+C to leave"))
	return ContainerStyle.Render(b.String())
}

// RoomUI runs a RoomModel program fed by Update.
type RoomUI struct {
	program *tea.Program
	updates chan RoomSnapshot
	done    chan struct{}
	once    sync.Once
	err     error
}

func NewRoomUI(room, self string) *RoomUI {
	updates := make(chan RoomSnapshot, 16)
	return &RoomUI{
		program: tea.NewProgram(NewRoomModel(room, self, updates)),
		updates: updates,
		done:    make(chan struct{}),
	}
}

// Start runs the program in the background.
func (u *RoomUI) Start() {
	go func() {
		defer close(u.done)
		_, u.err = u.program.Run()
	}()
}

// Update replaces the displayed snapshot. Stale snapshots are dropped when
// the view falls behind.
func (u *RoomUI) Update(snap RoomSnapshot) {
	select {
	case <-u.done:
	case u.updates <- snap:
	default:
	}
}

// Done is closed when the user quits or Stop finishes.
func (u *RoomUI) Done() <-chan struct{} {
	return u.done
}

// Stop ends the program and waits for the terminal to be restored.
func (u *RoomUI) Stop() error {
	u.once.Do(func() {
		close(u.updates)
	})
	<-u.done
	return u.err
}
