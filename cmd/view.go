package cmd

import (
	"fmt"

	"github.com/0tak2/webrtc-study/internal/ui"
)

// roomView displays room snapshots until the user leaves.
type roomView interface {
	Update(ui.RoomSnapshot)
	Done() <-chan struct{}
	Stop() error
}

func newTermView(roomID, username string) roomView {
	v := ui.NewRoomUI(roomID, username)
	v.Start()
	return v
}

// plainView prints a line whenever the mesh summary changes.
type plainView struct {
	room string
	last string
	done chan struct{}
}

func newPlainView(roomID string) *plainView {
	ui.PrintInfof("Joined room %s", ui.BoldStyle.Render(roomID))
	return &plainView{room: roomID, done: make(chan struct{})}
}

func (v *plainView) Update(snap ui.RoomSnapshot) {
	line := fmt.Sprintf("%d/%d peers stable", ui.StableCount(snap.Peers), len(snap.Peers))
	if snap.Status != "" {
		line += " (" + snap.Status + ")"
	}
	if line == v.last {
		return
	}
	v.last = line
	ui.PrintInfo(line)
}

func (v *plainView) Done() <-chan struct{} {
	return v.done
}

func (v *plainView) Stop() error {
	return nil
}
