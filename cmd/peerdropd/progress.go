package main

import (
	"fmt"
	"strings"
	"time"

	"peerdrop/transfer"
)

// ansiColors mirrors LanDrop/p2p/progress.go's terminal color table.
var ansiColors = struct {
	Reset, Green, Yellow, Cyan, Bold string
}{
	Reset:  "\033[0m",
	Green:  "\033[32m",
	Yellow: "\033[33m",
	Cyan:   "\033[36m",
	Bold:   "\033[1m",
}

// consoleProgress renders a transfer.TransferProgress stream to the
// terminal, adapted from LanDrop/p2p/progress.go's ProgressTracker to
// work off bytes_transferred/total_bytes rather than chunk counts.
type consoleProgress struct {
	filename   string
	lastRender time.Time
}

func newConsoleProgress(filename string) *consoleProgress {
	return &consoleProgress{filename: filename}
}

func (c *consoleProgress) Update(p transfer.TransferProgress) {
	now := time.Now()
	if now.Sub(c.lastRender) < 50*time.Millisecond && p.State == transfer.StateActive {
		return
	}
	c.lastRender = now

	width := 30
	var pct float64
	if p.TotalBytes > 0 {
		pct = float64(p.BytesTransferred) / float64(p.TotalBytes) * 100
	}
	filled := int(pct / 100 * float64(width))
	bar := strings.Repeat("=", filled) + strings.Repeat(".", width-filled)

	fmt.Printf("\r%s[%s%s%s] %.1f%% | %.2f MB/s | %s%s",
		ansiColors.Bold, ansiColors.Cyan, bar, ansiColors.Reset,
		pct, p.SpeedBps/(1024*1024), c.filename, ansiColors.Reset)

	if p.State.IsTerminal() {
		fmt.Println()
		color := ansiColors.Green
		if p.State != transfer.StateComplete {
			color = ansiColors.Yellow
		}
		fmt.Printf("%s%s: %s%s\n", color, c.filename, p.State, ansiColors.Reset)
	}
}
