// Package report renders peak-finding results as PNG plots (gonum/plot)
// and standalone HTML charts (go-echarts).
package report
