package mesh

import (
	"fmt"
	"strings"
	"time"
)

// TokenContext carries everything the message templates can reference.
type TokenContext struct {
	Version     string
	StartedAt   time.Time
	Now         time.Time
	Features    []string
	NodeCount   int
	DirectCount int

	// Sender identity, filled for ack/welcome replies.
	NodeID    string
	LongName  string
	ShortName string
	HopStart  uint32
	HopLimit  uint32

	Timestamp time.Time
	Location  *time.Location
}

// ExpandTokens substitutes the supported {TOKEN} placeholders. Unknown
// tokens are preserved verbatim.
func ExpandTokens(template string, ctx TokenContext) string {
	if template == "" {
		return ""
	}
	loc := ctx.Location
	if loc == nil {
		loc = time.Local
	}
	hops := numberOfHops(ctx.HopStart, ctx.HopLimit)

	replacements := []struct {
		token string
		value string
	}{
		{"{VERSION}", ctx.Version},
		{"{DURATION}", formatDuration(ctx.Now.Sub(ctx.StartedAt))},
		{"{FEATURES}", strings.Join(ctx.Features, " ")},
		{"{NODECOUNT}", fmt.Sprintf("%d", ctx.NodeCount)},
		{"{DIRECTCOUNT}", fmt.Sprintf("%d", ctx.DirectCount)},
		{"{NODE_ID}", ctx.NodeID},
		{"{LONG_NAME}", ctx.LongName},
		{"{SHORT_NAME}", ctx.ShortName},
		{"{NUMBER_HOPS}", fmt.Sprintf("%d", hops)},
		{"{RABBIT_HOPS}", rabbitHops(hops)},
		{"{DATE}", ctx.Timestamp.In(loc).Format("2006-01-02")},
		{"{TIME}", ctx.Timestamp.In(loc).Format("15:04")},
	}

	out := template
	for _, r := range replacements {
		out = strings.ReplaceAll(out, r.token, r.value)
	}

	return out
}

// numberOfHops derives the hop count a packet took. Zero when either
// field is missing or the pair is inconsistent.
func numberOfHops(hopStart, hopLimit uint32) int {
	if hopStart == 0 || hopStart < hopLimit {
		return 0
	}

	return int(hopStart - hopLimit)
}

func rabbitHops(hops int) string {
	if hops <= 0 {
		return "🎯"
	}

	return strings.Repeat("🐇", hops)
}

// formatDuration renders uptime as "{d}d {h}h", "{h}h {m}m", "{m}m",
// or "{s}s" depending on magnitude.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24

		return fmt.Sprintf("%dd %dh", days, hours)
	case d >= time.Hour:
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60

		return fmt.Sprintf("%dh %dm", hours, minutes)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
