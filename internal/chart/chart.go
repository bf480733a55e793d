// Package chart draws series as terminal block charts.
package chart

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Eighth-block levels, empty to full.
var levels = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

var (
	positiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3fb950"))
	negativeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149"))
	axisStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

// Options configures Area.
type Options struct {
	Width  int // plot columns, excluding the axis gutter
	Height int // rows
	Min    float64
	Max    float64
	// Total is the full series length. Values shorter than Total leave the
	// right side blank so a growing prefix fills the chart left to right.
	// Zero means len(values).
	Total int
	// Baseline splits coloring: values at or above it use the positive style.
	Baseline float64
	// Plain disables styling.
	Plain bool
}

// Columns averages values into at most width buckets of a series whose full
// length is total. Buckets beyond the end of values are NaN.
func Columns(values []float64, total, width int) []float64 {
	if total < len(values) {
		total = len(values)
	}
	if width <= 0 || total == 0 {
		return nil
	}
	if width > total {
		width = total
	}
	out := make([]float64, width)
	for c := range out {
		lo := c * total / width
		hi := (c + 1) * total / width
		if lo >= len(values) {
			out[c] = math.NaN()
			continue
		}
		if hi > len(values) {
			hi = len(values)
		}
		var sum float64
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[c] = sum / float64(hi-lo)
	}
	return out
}

// level maps v into [0, steps].
func level(v, min, max float64, steps int) int {
	if max <= min {
		return steps / 2
	}
	f := (v - min) / (max - min)
	f = math.Max(0, math.Min(1, f))
	return int(math.Round(f * float64(steps)))
}

// Sparkline draws values in a single row of width cells.
func Sparkline(values []float64, min, max float64, width int) string {
	cols := Columns(values, len(values), width)
	var b strings.Builder
	for _, v := range cols {
		if math.IsNaN(v) {
			b.WriteRune(' ')
			continue
		}
		l := level(v, min, max, len(levels)-2)
		b.WriteRune(levels[l+1])
	}
	return b.String()
}

// Area draws values as a filled area chart with a y-axis gutter.
func Area(values []float64, opts Options) string {
	if opts.Height < 1 {
		opts.Height = 1
	}
	total := opts.Total
	if total == 0 {
		total = len(values)
	}
	cols := Columns(values, total, opts.Width)
	if len(cols) == 0 {
		return ""
	}

	steps := opts.Height * 8
	heights := make([]int, len(cols))
	for i, v := range cols {
		if math.IsNaN(v) {
			heights[i] = -1
			continue
		}
		heights[i] = level(v, opts.Min, opts.Max, steps)
	}

	style := func(s lipgloss.Style, text string) string {
		if opts.Plain {
			return text
		}
		return s.Render(text)
	}

	rows := make([]string, 0, opts.Height)
	for r := opts.Height - 1; r >= 0; r-- {
		var line strings.Builder
		line.WriteString(style(axisStyle, gutter(r, opts)))
		for i, h := range heights {
			cell := ' '
			switch {
			case h < 0:
			case h >= (r+1)*8:
				cell = levels[8]
			case h > r*8:
				cell = levels[h-r*8]
			}
			if cell == ' ' {
				line.WriteRune(cell)
				continue
			}
			s := positiveStyle
			if cols[i] < opts.Baseline {
				s = negativeStyle
			}
			line.WriteString(style(s, string(cell)))
		}
		rows = append(rows, line.String())
	}
	return strings.Join(rows, "\n")
}

// gutter labels the top, middle and bottom rows.
func gutter(row int, opts Options) string {
	var label string
	switch row {
	case opts.Height - 1:
		label = fmt.Sprintf("%+.1f", opts.Max)
	case 0:
		label = fmt.Sprintf("%+.1f", opts.Min)
	case (opts.Height - 1) / 2:
		label = fmt.Sprintf("%+.1f", (opts.Min+opts.Max)/2)
	}
	return fmt.Sprintf("%5s │", label)
}

// GutterWidth is the width Area adds on the left.
const GutterWidth = 7
