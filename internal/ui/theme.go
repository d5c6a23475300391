package ui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/zsprackett/tokengauge/internal/dashboard"
	"github.com/zsprackett/tokengauge/internal/usage"
)

// Theme colors for the TUI.
var (
	ColorPrimary = tcell.NewHexColor(0x89b4fa) // blue
	ColorAccent  = tcell.NewHexColor(0xcba6f7) // mauve
	ColorText    = tcell.NewHexColor(0xcdd6f4)
	ColorSuccess = tcell.NewHexColor(0xa6e3a1) // green
	ColorWarning = tcell.NewHexColor(0xf9e2af) // yellow
	ColorError   = tcell.NewHexColor(0xf38ba8) // red
	ColorBorder  = tcell.NewHexColor(0x45475a)
)

// SeverityColor is the frame color for the worst severity on screen.
func SeverityColor(s usage.Severity) tcell.Color {
	switch s {
	case usage.SeverityNormal:
		return ColorSuccess
	case usage.SeverityWarning:
		return ColorWarning
	case usage.SeverityCritical:
		return ColorError
	default:
		return ColorBorder
	}
}

// TitleColor highlights the title while the dashboard is busy.
func TitleColor(s dashboard.State) tcell.Color {
	if s == dashboard.Ready {
		return ColorPrimary
	}
	return ColorAccent
}
