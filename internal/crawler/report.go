package crawler

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"newsharvest/pkg/types"
)

var reportHeader = []string{"site", "strategy", "stop", "discovered", "extracted", "failed", "skipped", "total", "elapsed", "error"}

// PrintReport writes one aligned row per site outcome.
func PrintReport(w io.Writer, outcomes []types.SiteOutcome) error {
	rows := [][]string{reportHeader}
	for _, o := range outcomes {
		errText := ""
		switch {
		case o.Err != nil:
			errText = o.Err.Error()
		case o.Cause != "":
			errText = o.Cause
		}
		rows = append(rows, []string{
			o.Site,
			o.Strategy,
			o.Stop,
			strconv.Itoa(o.Discovered),
			strconv.Itoa(o.Extracted),
			strconv.Itoa(o.Failed),
			strconv.Itoa(o.Skipped),
			strconv.Itoa(o.Total),
			o.Elapsed.Round(time.Millisecond).String(),
			runewidth.Truncate(errText, 60, "..."),
		})
	}

	widths := make([]int, len(reportHeader))
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	for _, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
				continue
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(sb.String(), " ")); err != nil {
			return err
		}
	}
	return nil
}
