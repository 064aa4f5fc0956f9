package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/kanblam/kanblam/session"
)

const boardColumns = 7

var (
	columnHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	columnStyle       = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorOverlay).
				Padding(0, 1)
	focusedColumnStyle = columnStyle.
				BorderForeground(ColorIris)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorOverlay).
			Padding(0, 1)
	selectedCardStyle = cardStyle.
				BorderForeground(ColorFoam)
	cardIDStyle    = lipgloss.NewStyle().Foreground(ColorSubtle)
	cardTitleStyle = lipgloss.NewStyle().Foreground(ColorText)
	emptyColStyle  = lipgloss.NewStyle().Foreground(ColorMuted).Italic(true).Padding(0, 1)
)

// cardHeight is the rendered height of one card including its border.
const cardHeight = 4

// Board is the kanban view: one column per resting status, cards grouped by
// the task's column index. Selection moves card-wise within a column and
// column-wise across the board.
type Board struct {
	spinner *spinner.Model

	columns [boardColumns][]*session.Task
	col     int
	row     [boardColumns]int
	scroll  [boardColumns]int

	width  int
	height int
}

// NewBoard creates an empty board. The spinner is shared with the app so a
// single tick animates every busy card.
func NewBoard(spin *spinner.Model) *Board {
	return &Board{spinner: spin}
}

// SetTasks regroups the cards. Discarded tasks are hidden; transient statuses
// land in the Review column. Selection is clamped so it always points at a
// card when one exists.
func (b *Board) SetTasks(tasks []*session.Task) {
	var cols [boardColumns][]*session.Task
	for _, t := range tasks {
		i := t.Status.ColumnIndex()
		if i < 0 {
			continue
		}
		cols[i] = append(cols[i], t)
	}
	b.columns = cols
	for i := range b.row {
		b.clampRow(i)
	}
}

func (b *Board) clampRow(col int) {
	if n := len(b.columns[col]); b.row[col] >= n {
		b.row[col] = n - 1
	}
	if b.row[col] < 0 {
		b.row[col] = 0
	}
}

// Selected returns the highlighted task, nil when the focused column is empty.
func (b *Board) Selected() *session.Task {
	tasks := b.columns[b.col]
	if len(tasks) == 0 {
		return nil
	}
	return tasks[b.row[b.col]]
}

// Up moves the selection one card up within the column.
func (b *Board) Up() {
	if b.row[b.col] > 0 {
		b.row[b.col]--
	}
}

// Down moves the selection one card down within the column.
func (b *Board) Down() {
	if b.row[b.col] < len(b.columns[b.col])-1 {
		b.row[b.col]++
	}
}

// Left focuses the previous column.
func (b *Board) Left() {
	if b.col > 0 {
		b.col--
	}
}

// Right focuses the next column.
func (b *Board) Right() {
	if b.col < boardColumns-1 {
		b.col++
	}
}

// SetSize fixes the rendered dimensions.
func (b *Board) SetSize(width, height int) {
	b.width = width
	b.height = height
}

// View renders the seven columns side by side.
func (b *Board) View() string {
	if b.width == 0 {
		return ""
	}
	colWidth := b.width/boardColumns - 2
	if colWidth < 12 {
		colWidth = 12
	}
	innerHeight := b.height - 4
	if innerHeight < cardHeight {
		innerHeight = cardHeight
	}
	visible := innerHeight / cardHeight
	if visible < 1 {
		visible = 1
	}

	rendered := make([]string, 0, boardColumns)
	for i, status := range session.Columns() {
		rendered = append(rendered, b.renderColumn(i, status, colWidth, innerHeight, visible))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (b *Board) renderColumn(i int, status session.Status, width, height, visible int) string {
	accent := StatusColor(status.Label())
	header := columnHeaderStyle.Foreground(accent).
		Render(fmt.Sprintf("%s (%d)", status.Label(), len(b.columns[i])))

	b.scrollTo(i, visible)

	var body strings.Builder
	body.WriteString(header)
	body.WriteString("\n")
	tasks := b.columns[i]
	if len(tasks) == 0 {
		body.WriteString(emptyColStyle.Render("—"))
	}
	end := b.scroll[i] + visible
	if end > len(tasks) {
		end = len(tasks)
	}
	for j := b.scroll[i]; j < end; j++ {
		selected := i == b.col && j == b.row[i]
		body.WriteString(b.renderCard(tasks[j], width-4, selected))
		body.WriteString("\n")
	}

	style := columnStyle
	if i == b.col {
		style = focusedColumnStyle
	}
	return style.Width(width).Height(height).Render(strings.TrimRight(body.String(), "\n"))
}

// scrollTo keeps the selected card of the focused column inside the window.
func (b *Board) scrollTo(col, visible int) {
	if col != b.col {
		b.scroll[col] = 0
		return
	}
	if b.row[col] < b.scroll[col] {
		b.scroll[col] = b.row[col]
	}
	if b.row[col] >= b.scroll[col]+visible {
		b.scroll[col] = b.row[col] - visible + 1
	}
}

func (b *Board) renderCard(t *session.Task, width int, selected bool) string {
	if width < 8 {
		width = 8
	}
	id := cardIDStyle.Render(t.DisplayID())
	badges := b.cardBadges(t)
	idLine := id
	if badges != "" {
		gap := width - lipgloss.Width(id) - lipgloss.Width(badges)
		if gap < 1 {
			gap = 1
		}
		idLine = id + strings.Repeat(" ", gap) + badges
	}
	title := cardTitleStyle.Render(runewidth.Truncate(t.BoardTitle(), width, "…"))

	style := cardStyle
	if selected {
		style = selectedCardStyle
	}
	return style.Width(width + 2).Render(idLine + "\n" + title)
}

// cardBadges builds the decoration cluster on the card's id line.
func (b *Board) cardBadges(t *session.Task) string {
	var parts []string
	if t.SummarizingTitle || t.Status.Transient() || t.InQASession {
		parts = append(parts, b.spinner.View())
	}
	if t.PendingFeedback {
		parts = append(parts, lipgloss.NewStyle().Foreground(ColorFoam).Render("●"))
	}
	if t.BehindBase {
		parts = append(parts, lipgloss.NewStyle().Foreground(ColorGold).Render("↓"))
	}
	if t.QAExceededWarning {
		parts = append(parts, lipgloss.NewStyle().Foreground(ColorLove).Render("⚠"))
	}
	if t.QAAttempts > 0 && !t.QAExceededWarning {
		parts = append(parts, lipgloss.NewStyle().Foreground(ColorGold).Render(fmt.Sprintf("q%d", t.QAAttempts)))
	}
	return strings.Join(parts, " ")
}
