package main

import (
	"io"
	"strconv"

	"endpoint-dispatcher/internal/model"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

func statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return color.New(color.FgHiRed, color.Bold)
	case code >= 400:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func printRecords(w io.Writer, records []model.AccessRecord) {
	if len(records) == 0 {
		io.WriteString(w, "No requests journaled yet.\n")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Method", "Path", "Route", "Status", "Bytes", "Duration", "State"})
	table.SetAutoWrapText(false)

	for _, rec := range records {
		table.Append([]string{
			rec.CreatedAt.Format("02 Jan 15:04:05"),
			rec.Method,
			rec.Path,
			rec.Route,
			statusColor(rec.Status).Sprint(rec.Status),
			strconv.FormatInt(rec.Bytes, 10),
			rec.Duration.String(),
			string(rec.State),
		})
	}
	table.Render()
}

func printHits(w io.Writer, prefixes []string, counts map[string]int64) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Route", "Hits"})
	for _, p := range prefixes {
		table.Append([]string{p, strconv.FormatInt(counts[p], 10)})
	}
	table.Render()
}
