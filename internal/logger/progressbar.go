package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ProgressBar renders "[====      ] 2/5 (40%)" for the task graph.
type ProgressBar struct {
	mu      sync.RWMutex
	current int
	total   int
	width   int
	color   bool
}

// NewProgressBar creates a bar of width cells. Width below 1 uses 20.
func NewProgressBar(total, width int, useColor bool) *ProgressBar {
	if width < 1 {
		width = 20
	}
	if total < 0 {
		total = 0
	}
	return &ProgressBar{total: total, width: width, color: useColor}
}

// Set updates the counters. The total grows as corrective subtasks appear.
func (pb *ProgressBar) Set(current, total int) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if total < 0 {
		total = 0
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	pb.current, pb.total = current, total
}

// Percentage returns progress clamped to 0-100.
func (pb *ProgressBar) Percentage() int {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.percentage()
}

func (pb *ProgressBar) percentage() int {
	if pb.total == 0 {
		return 0
	}
	return pb.current * 100 / pb.total
}

// Render returns the bar, coloured cyan while running and green once done.
func (pb *ProgressBar) Render() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	perc := pb.percentage()
	filled := perc * pb.width / 100
	bar := "[" + strings.Repeat("=", filled) + strings.Repeat(" ", pb.width-filled) + "]"
	out := fmt.Sprintf("%s %d/%d (%d%%)", bar, pb.current, pb.total, perc)

	if !pb.color {
		return out
	}
	c := color.New(color.FgCyan)
	if perc == 100 {
		c = color.New(color.FgGreen)
	}
	c.EnableColor()
	return c.Sprint(out)
}
