package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// PeerRow is one remote participant as shown in the room view.
type PeerRow struct {
	ID         string
	Username   string
	Role       string
	State      string
	Connection string
	Hello      bool
	Tracks     int
}

// StableCount returns how many rows finished negotiating.
func StableCount(rows []PeerRow) int {
	n := 0
	for _, r := range rows {
		if r.State == "stable" {
			n++
		}
	}
	return n
}

// PeerTableView renders the peers with lipgloss/table.
func PeerTableView(rows []PeerRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No peers")
	}

	headers := []string{"Peer", "ID", "Role", "Negotiation", "Connection", "Hello", "Tracks"}

	var data [][]string
	for _, r := range rows {
		hello := "-"
		if r.Hello {
			hello = IconSuccess
		}
		name := r.Username
		if name == "" {
			name = MutedStyle.Render("anonymous")
		}
		data = append(data, []string{
			name,
			truncateID(r.ID),
			r.Role,
			r.State,
			r.Connection,
			hello,
			fmt.Sprintf("%d", r.Tracks),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
