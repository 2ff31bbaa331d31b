package tui

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Emerald green for the FIQH branding.
const brandGreen = "#10B981"

// FIQH ASCII art (filled block style).
var fiqhArt = []string{
	"    ███████╗██╗ ██████╗ ██╗  ██╗",
	"    ██╔════╝██║██╔═══██╗██║  ██║",
	"    █████╗  ██║██║   ██║███████║",
	"    ██╔══╝  ██║██║▄▄ ██║██╔══██║",
	"    ██║     ██║╚██████╔╝██║  ██║",
	"    ╚═╝     ╚═╝ ╚══▀▀═╝ ╚═╝  ╚═╝",
}

// Crescent accent rendered beside the wordmark.
var crescentArt = []string{
	"   ██▄ ",
	"  ██   ",
	"  ██   ",
	"  ██   ",
	"   ██▀ ",
	"       ",
}

// Styles contains all lipgloss styles for the TUI.
type Styles struct {
	Banner    lipgloss.Style
	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Tips      lipgloss.Style
	Error     lipgloss.Style
	Prompt    lipgloss.Style
	Separator lipgloss.Style
	StatusBar lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(brandGreen)),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(brandGreen)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		StatusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	}
}

// RenderBanner returns the FIQH ASCII art banner as a styled string.
func (s Styles) RenderBanner() string {
	var b strings.Builder
	for i := range fiqhArt {
		_, _ = b.WriteString(s.Banner.Render(crescentArt[i]))
		_, _ = b.WriteString(s.Banner.Render(fiqhArt[i]))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

// welcomeTips contains getting started tips displayed under the banner.
var welcomeTips = []string{
	"Tips for getting started:",
	"  • Ask about any token, contract, or Islamic finance topic",
	"  • Use /status to see whether the advisory engine is online",
	"  • Press Ctrl+C to cancel, Ctrl+D to exit",
	"  • Up/Down arrows navigate input history",
}

// RenderWelcomeTips returns styled welcome tips.
func (s Styles) RenderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
