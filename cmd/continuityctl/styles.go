package main

import "github.com/charmbracelet/lipgloss"

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // gray

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // white

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // yellow
)
