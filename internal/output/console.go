// internal/output/console.go
// Console output formatter with a lipgloss report table

package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/aspnmy/mirapipe/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	titleStyle  = lipgloss.NewStyle().Bold(true)

	// Color-coded outcome kinds
	kindColors = map[models.OutcomeKind]lipgloss.Color{
		models.OutcomeOpen:              lipgloss.Color("#04B575"),
		models.OutcomeTLSNegotiated:     lipgloss.Color("#00B7EB"),
		models.OutcomeTLSSuspected:      lipgloss.Color("#FFD93D"),
		models.OutcomeConnectError:      lipgloss.Color("#FF6B6B"),
		models.OutcomeTLSHandshakeError: lipgloss.Color("#FF6B6B"),
		models.OutcomeClosed:            lipgloss.Color("#888888"),
	}
)

// ConsoleFormatter writes a human-readable report
type ConsoleFormatter struct {
	writer  io.Writer
	color   bool
	verbose bool
	mu      sync.Mutex
}

// NewConsoleFormatter creates a new console formatter. With verbose set,
// every finished port is printed as it completes.
func NewConsoleFormatter(w io.Writer, color, verbose bool) *ConsoleFormatter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleFormatter{writer: w, color: color, verbose: verbose}
}

// Write prints one line per finished port in verbose mode
func (f *ConsoleFormatter) Write(result *models.ProbeResult) error {
	if !f.verbose {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := fmt.Fprintf(f.writer, "Port %d: %s\n", result.Target.Port, f.describe(result.Outcome))
	return err
}

// WriteReport prints the tallies and a table of every non-closed port
func (f *ConsoleFormatter) WriteReport(report *models.ScanReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	c := report.Counts()

	b.WriteString(f.title(fmt.Sprintf("Scan of %s finished in %v", report.Host, report.Duration.Round(time.Millisecond))))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Ports: %d | Open: %d | TLS: %d | Maybe TLS: %d | Errors: %d | Closed: %d\n",
		c.Total, c.Open, c.TLS, c.TLSSuspected, c.Errors, c.Closed)

	details := report.Details()
	if len(details) == 0 {
		b.WriteString("\nNo open ports found\n")
		_, err := io.WriteString(f.writer, b.String())
		return err
	}

	rows := make([][]string, len(details))
	kinds := make([]models.OutcomeKind, len(details))
	for i, d := range details {
		rows[i] = []string{strconv.Itoa(d.Target.Port), d.Outcome.Kind.String(), d.Outcome.Detail}
		kinds[i] = d.Outcome.Kind
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PORT", "STATE", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				if f.color {
					return headerStyle
				}
				return cellStyle.Bold(true)
			}
			if f.color && col == 1 {
				if color, ok := kindColors[kinds[row]]; ok {
					return cellStyle.Foreground(color)
				}
			}
			return cellStyle
		})
	if f.color {
		t = t.BorderStyle(borderStyle)
	}

	b.WriteString("\n")
	b.WriteString(t.Render())
	b.WriteString("\n")

	_, err := io.WriteString(f.writer, b.String())
	return err
}

// describe renders an outcome the way the per-port stream shows it
func (f *ConsoleFormatter) describe(o models.Outcome) string {
	var text string
	switch o.Kind {
	case models.OutcomeOpen:
		text = "Open"
	case models.OutcomeClosed:
		text = "Closed"
	case models.OutcomeTLSNegotiated:
		text = "Open (" + o.Detail + ")"
	case models.OutcomeTLSSuspected:
		text = "Open (maybe TLS: " + o.Detail + ")"
	case models.OutcomeTLSHandshakeError:
		text = "Open (TLS error: " + o.Detail + ")"
	case models.OutcomeConnectError:
		text = "Error: " + o.Detail
	default:
		text = o.String()
	}

	if !f.color {
		return text
	}
	if color, ok := kindColors[o.Kind]; ok {
		return lipgloss.NewStyle().Foreground(color).Render(text)
	}
	return text
}

func (f *ConsoleFormatter) title(s string) string {
	if !f.color {
		return s
	}
	return titleStyle.Render(s)
}

// Flush is a no-op for console
func (f *ConsoleFormatter) Flush() error {
	return nil
}

// Close is a no-op for console
func (f *ConsoleFormatter) Close() error {
	return nil
}
