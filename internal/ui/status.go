package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"forge/internal/graph"
	"forge/internal/tasks"
)

// StatusTable renders one row per module with its review progress.
func StatusTable(styles *Styles, states []tasks.ModuleState) string {
	rows := make([][]string, 0, len(states))
	for _, s := range states {
		next := string(s.Next)
		if next == "" {
			next = "-"
		}
		rows = append(rows, []string{
			s.Module,
			fmt.Sprint(s.Level),
			fmt.Sprintf("%d/%d", s.Progress, len(tasks.Stages)),
			next,
			s.Status().String(),
			shortFingerprint(s.Fingerprint),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.TableBorder).
		Headers("MODULE", "LEVEL", "STAGES", "NEXT", "STATUS", "FINGERPRINT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.TableHeader
			}
			if col == 4 && row >= 0 && row < len(states) {
				return statusStyle(styles, states[row].Status()).Padding(0, 1)
			}
			return styles.TableCell
		})
	return t.String()
}

func statusStyle(styles *Styles, s tasks.ModuleStatus) lipgloss.Style {
	switch s {
	case tasks.StatusComplete:
		return styles.Success
	case tasks.StatusInProgress:
		return styles.Warning
	default:
		return styles.Dim
	}
}

// StatusSummary is a one-line count of modules per status.
func StatusSummary(states []tasks.ModuleState) string {
	counts := map[tasks.ModuleStatus]int{}
	for _, s := range states {
		counts[s.Status()]++
	}
	return fmt.Sprintf("%d modules: %d complete, %d in progress, %d pending",
		len(states), counts[tasks.StatusComplete], counts[tasks.StatusInProgress], counts[tasks.StatusPending])
}

// GraphView lists modules grouped by dependency level.
func GraphView(styles *Styles, g *graph.Graph) string {
	var sb strings.Builder
	level := -1
	for _, n := range g.Order() {
		if n.Level != level {
			level = n.Level
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(styles.Header.Render(fmt.Sprintf("level %d", level)))
			sb.WriteString("\n")
		}
		sb.WriteString("  " + n.Path)
		if len(n.Dependencies) > 0 {
			sb.WriteString(styles.Dim.Render(" -> " + strings.Join(n.Dependencies, ", ")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
