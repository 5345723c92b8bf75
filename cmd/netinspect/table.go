package main

import (
	"fmt"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/etienne87/GA3C/internal/network"
	"github.com/etienne87/GA3C/internal/summary"
	"github.com/gomlx/gomlx/types/tensors"
	"strings"
)

// variableStats holds the shape and the distribution of values of a variable.
type variableStats struct {
	Name       string
	Dimensions []int
	Histogram  summary.Histogram
}

// collectStats of every trainable variable of net, in order.
func collectStats(net *network.Network, numBuckets int) ([]variableStats, error) {
	names := net.VariableNames()
	stats := make([]variableStats, 0, len(names))
	for _, name := range names {
		value, err := net.VariableValue(name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, variableStats{
			Name:       name,
			Dimensions: value.Shape().Dimensions,
			Histogram:  summary.NewHistogram(tensors.CopyFlatData[float32](value), numBuckets),
		})
	}
	return stats, nil
}

var sparkLevels = []rune(" ▁▂▃▄▅▆▇█")

// sparkline renders the bucket counts as a bar per bucket.
func sparkline(counts []int) string {
	var largest int
	for _, c := range counts {
		largest = max(largest, c)
	}
	var sb strings.Builder
	for _, c := range counts {
		level := 0
		if largest > 0 {
			level = (c*(len(sparkLevels)-1) + largest - 1) / largest
		}
		sb.WriteRune(sparkLevels[level])
	}
	return sb.String()
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

// renderTable of the variable statistics. If width > 0 the table is fit to it.
func renderTable(stats []variableStats, width int) string {
	rows := make([][]string, 0, len(stats))
	var total int
	for _, s := range stats {
		h := s.Histogram
		total += h.Count
		rows = append(rows, []string{
			s.Name,
			fmt.Sprintf("%v", s.Dimensions),
			fmt.Sprintf("%d", h.Count),
			fmt.Sprintf("%.4g", h.Min),
			fmt.Sprintf("%.4g", h.Max),
			fmt.Sprintf("%.4g", h.Mean),
			fmt.Sprintf("%.4g", h.Std),
			sparkline(h.BucketCounts),
		})
	}
	rows = append(rows, []string{"total", "", fmt.Sprintf("%d", total), "", "", "", "", ""})
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("variable", "shape", "size", "min", "max", "mean", "std", "histogram").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 2 && col <= 6:
				return numberStyle
			default:
				return cellStyle
			}
		})
	if width > 0 {
		t = t.Width(width)
	}
	return t.String()
}
