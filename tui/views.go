package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/GabrielVF/NodePulse/alert"
	"github.com/GabrielVF/NodePulse/control"
	"github.com/GabrielVF/NodePulse/nodeconf"
	"github.com/charmbracelet/lipgloss"
)

// staleAfter marks carried slow-tier values as stale in the views.
const staleAfter = time.Minute

// render assembles the full frame: title, tab bar, active tab content,
// status bar, and the confirmation overlay when one is pending.
func (m Model) render() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("  NodePulse  "))
	sb.WriteString("\n")

	var tabParts []string
	for i, name := range m.tabs {
		label := fmt.Sprintf(" %d: %s ", i+1, name)
		if tab(i) == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
	}
	sb.WriteString(strings.Join(tabParts, ""))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")

	contentHeight := m.height - 5 // title(1) + tabs(1) + divider(1) + status(2)
	if contentHeight < 1 {
		contentHeight = 1
	}
	content := m.renderActiveTab()
	if m.confirming != actionNone {
		overlay := overlayStyle.Render(m.confirming.prompt() + "  (y/n)")
		content = lipgloss.JoinVertical(lipgloss.Left, overlay, content)
	}
	sb.WriteString(clipLines(content, contentHeight))
	sb.WriteString("\n")

	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())

	return sb.String()
}

// renderActiveTab renders the content of the currently selected tab.
func (m Model) renderActiveTab() string {
	if !m.haveSnap {
		return dimStyle.Render("waiting for first refresh…")
	}
	switch m.activeTab {
	case tabDashboard:
		return m.renderDashboard()
	case tabSync:
		return m.renderSync()
	case tabBlockchain:
		return m.renderBlockchain()
	case tabControls:
		return m.renderControls()
	case tabSettings:
		return m.renderSettings()
	default:
		return ""
	}
}

// renderStatus renders the bottom status bar line.
func (m Model) renderStatus() string {
	if m.lastOpErr != nil {
		return errorStyle.Render(fmt.Sprintf("%s failed: %v", m.lastOp, m.lastOpErr))
	}

	parts := []string{
		fmt.Sprintf("last refresh: %s", m.lastRefresh()),
	}
	if m.lastOp != "" {
		parts = append(parts, m.lastOp+" ok")
	}
	parts = append(parts, "q: quit  1-5: tabs  r: refresh  c: clear alerts")

	return statusBarStyle.Render(strings.Join(parts, "  |  "))
}

func (m Model) renderDashboard() string {
	snap := m.snap
	var sb strings.Builder

	sb.WriteString(field("Node", renderLifecycle(snap.Lifecycle)))
	if snap.Live {
		sb.WriteString(field("RPC", goodStyle.Render("responding")))
	} else {
		sb.WriteString(field("RPC", badStyle.Render("not responding")))
	}
	if snap.HaveUptime {
		sb.WriteString(field("Uptime", formatDuration(snap.Uptime)))
	}
	if snap.HaveNetwork {
		sb.WriteString(field("Version", snap.Subversion))
		peers := fmt.Sprintf("%d (%d in / %d out)", snap.Peers, snap.PeersIn, snap.PeersOut)
		sb.WriteString(field("Peers", peers))
	} else {
		sb.WriteString(field("Peers", dimStyle.Render("unavailable")))
	}
	if snap.HaveMempool {
		sb.WriteString(field("Mempool", fmt.Sprintf("%d txs, %s", snap.MempoolTxs, formatBytes(snap.MempoolBytes))))
	}
	if snap.HaveFees {
		var fees []string
		for _, target := range feeOrder {
			if rate, ok := snap.Fees[target]; ok {
				fees = append(fees, fmt.Sprintf("%d blk: %.8f", target, rate))
			}
		}
		if len(fees) == 0 {
			sb.WriteString(field("Fees", dimStyle.Render("no estimates")))
		} else {
			sb.WriteString(field("Fees", strings.Join(fees, "   ")))
		}
	}
	if snap.HaveOffset {
		offset := snap.ClockOffset.Round(time.Millisecond).String()
		if snap.OffsetOver {
			sb.WriteString(field("Clock offset", warnStyle.Render(offset)))
		} else {
			sb.WriteString(field("Clock offset", offset))
		}
	} else {
		sb.WriteString(field("Clock offset", dimStyle.Render("unavailable")))
	}

	sb.WriteString("\n")
	sb.WriteString(labelStyle.Render("Alerts"))
	sb.WriteString("\n")
	sb.WriteString(renderAlerts(m.alerts, 8))
	return sb.String()
}

var feeOrder = []int{1, 3, 6}

func (m Model) renderSync() string {
	snap := m.snap
	var sb strings.Builder

	if !snap.HaveChain {
		return dimStyle.Render("chain state unavailable")
	}

	if snap.Syncing {
		sb.WriteString(field("Status", warnStyle.Render("syncing")))
	} else {
		sb.WriteString(field("Status", goodStyle.Render("synced")))
	}
	sb.WriteString(field("Blocks", fmt.Sprintf("%d / %d headers", snap.Height, snap.Headers)))
	sb.WriteString(field("Progress", fmt.Sprintf("%.4f%%", snap.VerificationProgress*100)))
	if snap.InitialBlockDownload {
		sb.WriteString(field("Mode", "initial block download"))
	}
	if snap.HaveRate {
		sb.WriteString(field("Rate", fmt.Sprintf("%.1f blocks/hour", snap.BlocksPerHour)))
	} else {
		sb.WriteString(field("Rate", dimStyle.Render("collecting samples…")))
	}
	if snap.HaveETA {
		sb.WriteString(field("ETA", formatDuration(snap.ETA)))
	}
	return sb.String()
}

func (m Model) renderBlockchain() string {
	snap := m.snap
	var sb strings.Builder

	if snap.HaveChain {
		sb.WriteString(field("Chain", snap.Chain))
		sb.WriteString(field("Size on disk", formatBytes(snap.SizeOnDisk)))
		if snap.Pruned {
			sb.WriteString(field("Pruning", fmt.Sprintf("enabled, target %s", formatBytes(snap.PruneTargetSize))))
		} else {
			sb.WriteString(field("Pruning", "disabled"))
		}
	}
	if snap.HavePeerList && len(snap.PeerVersions) > 0 {
		var versions []string
		for subver, count := range snap.PeerVersions {
			versions = append(versions, fmt.Sprintf("%s ×%d", subver, count))
		}
		sb.WriteString(field("Peer versions", strings.Join(versions, "  ")))
	}

	sb.WriteString("\n")
	header := labelStyle.Render("Recent blocks")
	if stale(snap.BlocksAsOf, staleAfter) {
		header += dimStyle.Render(fmt.Sprintf("  (as of %s)", snap.BlocksAsOf.Format("15:04:05")))
	}
	sb.WriteString(header)
	sb.WriteString("\n")

	if len(snap.RecentBlocks) == 0 {
		sb.WriteString(dimStyle.Render("no block data yet"))
		return sb.String()
	}
	for _, blk := range snap.RecentBlocks {
		age := "?"
		if blk.Time > 0 {
			age = formatDuration(time.Since(time.Unix(blk.Time, 0))) + " ago"
		}
		line := fmt.Sprintf("  %8d  %s…  %5d txs  %9s  %s",
			blk.Height, shortHash(blk.Hash), blk.NTx, formatBytes(blk.Size), age)
		sb.WriteString(valueStyle.Render(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderControls() string {
	var sb strings.Builder
	sb.WriteString(field("Node", renderLifecycle(m.snap.Lifecycle)))
	sb.WriteString("\n")
	sb.WriteString(valueStyle.Render("  s  start the node"))
	sb.WriteString("\n")
	sb.WriteString(valueStyle.Render("  t  stop the node (asks to confirm)"))
	sb.WriteString("\n")
	sb.WriteString(valueStyle.Render("  e  restart the node (asks to confirm)"))
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) renderSettings() string {
	conf := m.engine.Conf()
	var sb strings.Builder

	for i, opt := range nodeconf.Options {
		current, err := conf.CurrentValue(opt.Key)
		if err != nil {
			current = opt.Default
		}
		line := fmt.Sprintf("  %-16s %-8s %s", opt.Key, current, opt.Description)
		if i == m.selected {
			sb.WriteString(selectedStyle.Render(line))
		} else {
			sb.WriteString(valueStyle.Render(line))
		}
		sb.WriteString("\n")
	}

	diff := conf.Diff()
	sb.WriteString("\n")
	if len(diff) == 0 {
		sb.WriteString(dimStyle.Render("no staged changes"))
	} else {
		sb.WriteString(labelStyle.Render("Staged changes"))
		sb.WriteString("\n")
		for _, change := range diff {
			sb.WriteString(warnStyle.Render(fmt.Sprintf("  %s: %s → %s", change.Key, change.Current, change.Pending)))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("↑/↓ select   space cycle value   a apply   u reset   o reload"))
	return sb.String()
}

// renderAlerts renders the newest alerts, newest first.
func renderAlerts(alerts []alert.Alert, max int) string {
	if len(alerts) == 0 {
		return dimStyle.Render("no alerts")
	}
	var sb strings.Builder
	shown := 0
	for i := len(alerts) - 1; i >= 0 && shown < max; i-- {
		entry := alerts[i]
		line := fmt.Sprintf("  %s  %s", entry.Time.Format("15:04:05"), entry.Message)
		switch entry.Severity {
		case alert.SeverityError:
			sb.WriteString(badStyle.Render(line))
		case alert.SeverityWarning:
			sb.WriteString(warnStyle.Render(line))
		case alert.SeveritySuccess:
			sb.WriteString(goodStyle.Render(line))
		default:
			sb.WriteString(valueStyle.Render(line))
		}
		sb.WriteString("\n")
		shown++
	}
	return sb.String()
}

func renderLifecycle(state control.State) string {
	switch state {
	case control.StateRunning:
		return goodStyle.Render(state.String())
	case control.StateStopped:
		return badStyle.Render(state.String())
	case control.StateUnknown:
		return warnStyle.Render(state.String())
	default:
		return warnStyle.Render(state.String())
	}
}

// field renders one "Label: value" line.
func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-14s", label)) + valueStyle.Render(value) + "\n"
}

func shortHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16]
}

// formatDuration renders a duration in the largest two sensible units.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d >= 24*time.Hour:
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		return fmt.Sprintf("%dd %dh", days, hours)
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", d/time.Hour, (d%time.Hour)/time.Minute)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", d/time.Minute, (d%time.Minute)/time.Second)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

// clipLines limits the string s to at most maxLines newline-delimited lines.
func clipLines(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[:maxLines], "\n")
}

// formatBytes renders a byte count in binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
