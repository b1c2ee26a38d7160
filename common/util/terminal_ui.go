package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Global quiet and silent mode flags
var quietMode bool
var silentMode bool

var (
	outMu  sync.Mutex
	output io.Writer = os.Stdout
)

// SetQuietMode enables or disables quiet mode for all terminal output
func SetQuietMode(quiet bool) {
	quietMode = quiet
}

// SetSilentMode enables or disables silent mode (suppresses ALL output including errors)
func SetSilentMode(silent bool) {
	silentMode = silent
	if silent {
		quietMode = true
	}
}

// IsQuietMode returns true if quiet mode is enabled
func IsQuietMode() bool {
	return quietMode
}

// IsSilentMode returns true if silent mode is enabled
func IsSilentMode() bool {
	return silentMode
}

// SetOutput redirects terminal output. nil restores stdout.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	output = w
}

func printf(format string, args ...interface{}) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(output, format, args...)
}

const (
	colorCyan   = lipgloss.Color("#00BFFF")
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#f59e0b")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
	styleWarn    = lipgloss.NewStyle().Foreground(colorYellow)
	styleInfo    = lipgloss.NewStyle().Foreground(colorCyan)
	styleBar     = lipgloss.NewStyle().Foreground(colorCyan)
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleBanner  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 2)
)

// ShowBanner prints the product name, build and host details.
func ShowBanner(version, gitCommit, buildDate string) {
	if quietMode {
		return
	}
	sys := GetSystemInfo()
	body := lipgloss.JoinVertical(lipgloss.Left,
		styleTitle.Render("fleetscan")+"  "+styleDim.Render("printer consumable collector"),
		fmt.Sprintf("Version %s | Build %s | %s",
			styleSuccess.Render(version), styleWarn.Render(gitCommit), buildDate),
		styleDim.Render(fmt.Sprintf("%s (%s) | %s | %d CPUs", sys.OSVersion, sys.Arch, sys.Hostname, sys.NumCPU)),
	)
	printf("%s\n\n", styleBanner.Render(body))
}

// ProgressBar renders a fixed-width bar for processed out of total.
func ProgressBar(processed, total, width int) string {
	if width <= 0 {
		width = 40
	}
	percent := 0
	if total > 0 {
		percent = processed * 100 / total
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// ShowProgress redraws the progress line: bar, percentage, processed count,
// success and error tallies, then the message.
func ShowProgress(processed, total, succeeded, failed int, message string) {
	if quietMode {
		return
	}
	percent := 0
	if total > 0 {
		percent = processed * 100 / total
	}
	printf("\r  [%s] %3d%% %d/%d %s %s %s   ",
		styleBar.Render(ProgressBar(processed, total, 30)),
		percent, processed, total,
		styleSuccess.Render(fmt.Sprintf("✓%d", succeeded)),
		styleError.Render(fmt.Sprintf("✗%d", failed)),
		message)
}

// ClearLine clears the current line
func ClearLine() {
	if quietMode {
		return
	}
	printf("\r%s\r", strings.Repeat(" ", 100))
}

// logLine is the quiet-mode rendering: timestamp, level, message.
func logLine(level string, style lipgloss.Style, message string) {
	printf("%s %s %s\n", styleDim.Render(time.Now().Format(time.RFC3339)), style.Render("["+level+"]"), message)
}

// ShowSuccess displays a success message
func ShowSuccess(message string) {
	if silentMode {
		return
	}
	if quietMode {
		logLine("INFO", lipgloss.NewStyle().Foreground(colorBlue), message)
		return
	}
	ClearLine()
	printf("  %s %s\n", styleSuccess.Render("✓"), message)
}

// ShowError displays an error message. Shown in quiet mode too.
func ShowError(message string) {
	if silentMode {
		return
	}
	if quietMode {
		logLine("ERROR", styleError, message)
		return
	}
	ClearLine()
	printf("  %s %s\n", styleError.Render("✗"), message)
}

// ShowInfo displays an info message
func ShowInfo(message string) {
	if silentMode {
		return
	}
	if quietMode {
		logLine("INFO", lipgloss.NewStyle().Foreground(colorBlue), message)
		return
	}
	ClearLine()
	printf("  %s %s\n", styleInfo.Render("•"), message)
}

// ShowWarning displays a warning message. Shown in quiet mode too.
func ShowWarning(message string) {
	if silentMode {
		return
	}
	if quietMode {
		logLine("WARN", styleWarn, message)
		return
	}
	ClearLine()
	printf("  %s %s\n", styleWarn.Render("⚠"), message)
}

// ShowCompletionScreen prints a bordered summary box. The first line is the
// headline; the rest are detail lines.
func ShowCompletionScreen(success bool, headline string, details ...string) {
	if silentMode {
		return
	}
	if quietMode {
		msg := headline
		if len(details) > 0 {
			msg += " (" + strings.Join(details, ", ") + ")"
		}
		if success {
			logLine("INFO", lipgloss.NewStyle().Foreground(colorBlue), msg)
		} else {
			logLine("ERROR", styleError, msg)
		}
		return
	}

	icon, color := "✓", colorGreen
	if !success {
		icon, color = "✗", colorRed
	}
	lines := []string{styleBold.Render(icon + "  " + headline)}
	for _, d := range details {
		lines = append(lines, "   "+d)
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Foreground(color).
		Padding(1, 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	printf("\n%s\n\n", box)
}
