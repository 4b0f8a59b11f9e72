// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	selectedStyle = lipgloss.NewStyle().Reverse(true)
	overlayStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2)

	levelStyles = map[string]lipgloss.Style{
		"green":    okStyle,
		"yellow":   warnStyle,
		"orange":   warnStyle.Bold(true),
		"red":      errStyle,
		"critical": errStyle.Underline(true),
	}
)

// Render draws the whole frame: header, active screen or overlay,
// notifications, footer. Pure; reads only the model.
func Render(m *Model) string {
	var b strings.Builder

	b.WriteString(renderHeader(m))
	b.WriteString("\n")

	if m.Overlay != OverlayNone {
		b.WriteString(renderOverlay(m))
	} else {
		b.WriteString(renderScreen(m))
	}

	if len(m.Notifications) > 0 {
		b.WriteString("\n")
		b.WriteString(renderNotifications(m))
	}
	b.WriteString("\n")
	b.WriteString(renderFooter(m))
	return b.String()
}

func renderHeader(m *Model) string {
	level := m.State.OverallLevel()
	style, ok := levelStyles[level]
	if !ok {
		style = dimStyle
	}

	parts := []string{
		titleStyle.Render("sbh"),
		fmt.Sprintf("[%d/%d] %s", int(m.Screen)+1, screenCount, m.Screen),
		style.Render("pressure: " + level),
	}
	switch m.State.Freshness.String() {
	case "stale":
		parts = append(parts, warnStyle.Render(
			fmt.Sprintf("state %s old", m.State.Age.Round(time.Second))))
	case "missing", "malformed":
		parts = append(parts, warnStyle.Render("state: "+m.State.Freshness.String()))
	}
	if m.Degraded {
		parts = append(parts, errStyle.Render("DEGRADED"))
	}
	if sev := m.Severity(); sev >= SeverityHigh {
		parts = append(parts, errStyle.Render(strings.ToUpper(sev.String())+" — press ! for playbook"))
	}
	return strings.Join(parts, "  ")
}

func renderScreen(m *Model) string {
	switch m.Screen {
	case ScreenOverview:
		return renderOverview(m)
	case ScreenTimeline:
		return renderTimeline(m)
	case ScreenExplainability:
		return renderExplainability(m)
	case ScreenCandidates:
		return renderCandidates(m)
	case ScreenBallast:
		return renderBallast(m)
	case ScreenLogSearch:
		return renderLogSearch(m)
	case ScreenDiagnostics:
		return renderDiagnostics(m)
	default:
		return ""
	}
}

func renderOverview(m *Model) string {
	var b strings.Builder
	if len(m.State.Mounts) == 0 {
		b.WriteString(dimStyle.Render("no mount data"))
		return b.String()
	}
	for _, mt := range m.State.Mounts {
		if mt.Unavailable {
			b.WriteString(fmt.Sprintf("%-20s %s\n", mt.Mount, errStyle.Render("unavailable")))
			continue
		}
		style := levelStyles[mt.Level]
		b.WriteString(fmt.Sprintf("%-20s %5.1f%% free  %s  %s  %s\n",
			mt.Mount, mt.FreePct,
			style.Render(mt.Level),
			fmt.Sprintf("%s/s %s", humanize.Bytes(uint64(abs(mt.RateBPS))), mt.Trend),
			sparkline(m.RateHistories[mt.Mount])))
	}
	if st := m.State.State; st != nil {
		b.WriteString(fmt.Sprintf("\nballast %d/%d  scans %d  deleted %d (%s freed)  dropped logs %d\n",
			st.Ballast.Available, st.Ballast.Total,
			st.Counters.Scans, st.Counters.Deletions,
			humanize.Bytes(st.Counters.BytesFreed),
			st.Counters.DroppedLogEvents))
	}
	return b.String()
}

func renderTimeline(m *Model) string {
	rows := m.visibleTimeline()
	if len(rows) == 0 {
		return dimStyle.Render("no events") + "\n" +
			dimStyle.Render("filter: "+m.Filter.String())
	}
	var b strings.Builder
	b.WriteString(dimStyle.Render("filter: "+m.Filter.String()) + "\n")
	cursor := m.Cursors[ScreenTimeline]
	for i, e := range rows {
		line := fmt.Sprintf("%-27s %-18s %-8s %s",
			e.TS, e.Event, e.Severity, e.Path)
		b.WriteString(renderRow(m, line, i == cursor, severityStyle(string(e.Severity))))
	}
	return b.String()
}

func renderExplainability(m *Model) string {
	if len(m.Decisions) == 0 {
		return dimStyle.Render("no deletion decisions recorded")
	}
	var b strings.Builder
	cursor := m.Cursors[ScreenExplainability]
	for i, d := range m.Decisions {
		line := fmt.Sprintf("%.2f  %-12s %-9s %s",
			d.Score, d.Category, humanize.Bytes(uint64(d.Size)), d.Path)
		b.WriteString(renderRow(m, line, i == cursor, lipgloss.NewStyle()))
		if i == cursor && m.DetailOpen {
			for name, val := range d.Factors {
				b.WriteString(dimStyle.Render(fmt.Sprintf("    %-20s %.3f", name, val)) + "\n")
			}
		}
	}
	return b.String()
}

func renderCandidates(m *Model) string {
	if len(m.Candidates) == 0 {
		return dimStyle.Render("no candidates from the last scan")
	}
	var b strings.Builder
	b.WriteString(dimStyle.Render("sort: "+m.Sort.String()) + "\n")
	cursor := m.Cursors[ScreenCandidates]
	for i, c := range m.Candidates {
		marker := " "
		style := lipgloss.NewStyle()
		if c.Vetoed {
			marker = "v"
			style = dimStyle
		}
		line := fmt.Sprintf("%s %.2f  %-12s %-9s %s",
			marker, c.TotalScore, c.Category, humanize.Bytes(uint64(c.SizeBytes)), c.Path)
		b.WriteString(renderRow(m, line, i == cursor, style))
		if i == cursor && m.DetailOpen && c.Vetoed {
			b.WriteString(dimStyle.Render("    veto: "+c.VetoReason) + "\n")
		}
	}
	return b.String()
}

func renderBallast(m *Model) string {
	if len(m.Ballast) == 0 {
		return dimStyle.Render("ballast pool empty or unprovisioned")
	}
	var b strings.Builder
	cursor := m.Cursors[ScreenBallast]
	for i, f := range m.Ballast {
		status := okStyle.Render("present")
		if f.Size == 0 {
			status = warnStyle.Render("released")
		} else if !f.IntegrityOK {
			status = errStyle.Render("corrupt")
		}
		line := fmt.Sprintf("%-16s %-10s %s",
			fmt.Sprintf("ballast_%02d.bin", f.Index),
			humanize.Bytes(uint64(f.Size)), status)
		b.WriteString(renderRow(m, line, i == cursor, lipgloss.NewStyle()))
	}
	return b.String()
}

func renderLogSearch(m *Model) string {
	var b strings.Builder
	b.WriteString("search: " + m.SearchQuery + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("source: %s  partial: %v  %s",
		m.Telemetry.Source, m.Telemetry.Partial, m.Telemetry.Diagnostics)) + "\n")
	cursor := m.Cursors[ScreenLogSearch]
	for i, e := range m.Telemetry.Events {
		line := fmt.Sprintf("%-27s %-18s %s", e.TS, e.Event, e.Path)
		b.WriteString(renderRow(m, line, i == cursor, lipgloss.NewStyle()))
	}
	return b.String()
}

func renderDiagnostics(m *Model) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("state file:   %s (%s)\n",
		m.State.Freshness, m.State.Source))
	if len(m.State.Warnings.Unknown) > 0 {
		b.WriteString(warnStyle.Render("unknown fields: "+strings.Join(m.State.Warnings.Unknown, ", ")) + "\n")
	}
	if len(m.State.Warnings.Missing) > 0 {
		b.WriteString(dimStyle.Render("missing fields: "+strings.Join(m.State.Warnings.Missing, ", ")) + "\n")
	}
	b.WriteString(fmt.Sprintf("telemetry:    %s partial=%v %s\n",
		m.Telemetry.Source, m.Telemetry.Partial, m.Telemetry.Diagnostics))
	if st := m.State.State; st != nil {
		b.WriteString(fmt.Sprintf("daemon:       pid %d, up %s, rss %s\n",
			st.PID, (time.Duration(st.UptimeSeconds) * time.Second).String(),
			humanize.Bytes(st.MemoryRSSBytes)))
		b.WriteString(fmt.Sprintf("dropped logs: %d\n", st.Counters.DroppedLogEvents))
	}
	if len(m.FrameTimes) > 0 {
		var sum time.Duration
		for _, d := range m.FrameTimes {
			sum += d
		}
		b.WriteString(fmt.Sprintf("render avg:   %s over %d frames\n",
			(sum / time.Duration(len(m.FrameTimes))).Round(time.Microsecond),
			len(m.FrameTimes)))
	}
	return b.String()
}

func renderOverlay(m *Model) string {
	var body string
	switch m.Overlay {
	case OverlayHelp:
		body = helpText()
	case OverlayVoi:
		body = "verbosity: " + string(m.Prefs.Hints) + "\n(v or Esc to close)"
	case OverlayCommandPalette:
		body = ": " + m.SearchQuery + "\n(Esc to close)"
	case OverlayConfirmation:
		body = errStyle.Render("Release ballast now?") +
			"\n\nThis deletes sacrificial files to create instant headroom." +
			"\nConfirm from the Ballast screen. (Esc to cancel)"
	case OverlayIncidentPlaybook:
		body = renderPlaybook(m)
	}
	return overlayStyle.Render(body)
}

func renderPlaybook(m *Model) string {
	sev := m.Severity()
	var b strings.Builder
	b.WriteString(titleStyle.Render("Incident playbook — "+sev.String()) + "\n\n")
	for i, step := range PlaybookFor(sev) {
		b.WriteString(fmt.Sprintf("%d. [%s] %-15s %s\n",
			i+1, step.Shortcut, step.Screen, step.Rationale))
	}
	if sev >= SeverityHigh {
		b.WriteString("\n" + errStyle.Render("x: quick-release ballast"))
	}
	b.WriteString("\n" + dimStyle.Render("(Esc or ! to close)"))
	return b.String()
}

func renderNotifications(m *Model) string {
	var b strings.Builder
	for _, n := range m.Notifications {
		style := warnStyle
		if n.Level == "error" {
			style = errStyle
		}
		b.WriteString(style.Render("• "+n.Text) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderFooter(m *Model) string {
	if m.Prefs.Hints == HintsOff {
		return ""
	}
	hints := "1-7 screens  [ ] cycle  b ballast  r refresh  ? help  q quit"
	if m.Prefs.Hints == HintsMinimal {
		hints = "? help  q quit"
	}
	return dimStyle.Render(hints)
}

func helpText() string {
	return titleStyle.Render("Keys") + `

1-7        switch screen        [ ]   cycle screens
b          ballast screen       r     force refresh
j/k, arrows move cursor         enter toggle detail
f          cycle filter (timeline)
s          cycle sort (candidates)
?          help    v  verbosity    :  palette
!          incident playbook (under pressure)
x          quick release (overview, under pressure)
q          quit    Esc  back/close`
}

func renderRow(m *Model, line string, selected bool, style lipgloss.Style) string {
	if m.Prefs.Density == DensityComfortable {
		line = " " + line
	}
	if selected {
		return selectedStyle.Render(line) + "\n"
	}
	return style.Render(line) + "\n"
}

func severityStyle(s string) lipgloss.Style {
	switch s {
	case "error":
		return errStyle
	case "warning":
		return warnStyle
	default:
		return lipgloss.NewStyle()
	}
}

var sparkChars = []rune("▁▂▃▄▅▆▇█")

// sparkline renders a bounded history as a tiny bar chart, scaled to
// the window's own max.
func sparkline(vals []float64) string {
	if len(vals) == 0 {
		return ""
	}
	var max float64
	for _, v := range vals {
		if a := abs(v); a > max {
			max = a
		}
	}
	if max == 0 {
		return strings.Repeat(string(sparkChars[0]), len(vals))
	}
	var b strings.Builder
	for _, v := range vals {
		idx := int(abs(v) / max * float64(len(sparkChars)-1))
		b.WriteRune(sparkChars[idx])
	}
	return b.String()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
