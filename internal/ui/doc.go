// Package ui styles terminal output with lipgloss.
//
// [Palette] holds the named styles; [RenderCredential] and [RenderEvent] turn credential status and
// login events into styled lines for the CLI.
package ui
