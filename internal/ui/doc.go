// Package ui styles terminal output with lipgloss.
//
// [Progress] turns the engine's [tasks.ProgressUpdate] stream into colored lines: completed steps in green,
// failures in red, the pending publish in amber and per-batch detail in muted italics.
// [StateBadge] and [Banner] decorate command summaries.
package ui
