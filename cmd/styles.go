package cmd

import "github.com/charmbracelet/lipgloss"

var (
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	greetingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	thinkingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	refTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Underline(true)
	refURLStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	refHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)
