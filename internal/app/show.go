package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/shopspring/decimal"

	"lava-reports/internal/report"
	"lava-reports/internal/storage"
)

// Show prints recent supply points from the archive or a supply report file.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	points, err := a.recentPoints(ctx, opts)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(a.out, "no supply points found")
		return nil
	}
	printPoints(a.out, points)
	return nil
}

func (a *App) recentPoints(ctx context.Context, opts ShowOptions) ([]storage.SupplyPoint, error) {
	if opts.ReportPath != "" {
		rep, err := report.ReadSupply(opts.ReportPath)
		if err != nil {
			return nil, err
		}
		_, points, err := storage.FromSupplyReport(rep)
		if err != nil {
			return nil, err
		}
		sort.Slice(points, func(i, j int) bool { return points[i].TargetDate.After(points[j].TargetDate) })
		if opts.Limit > 0 && len(points) > opts.Limit {
			points = points[:opts.Limit]
		}
		return points, nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("database not configured; pass --report to show a supply report file")
	}
	defer closeStore()
	return store.ListRecentSupply(ctx, opts.Limit)
}

func printPoints(w io.Writer, points []storage.SupplyPoint) {
	headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	tbl := table.New("Date", "Block", "Supply (LAVA)", "Burn (LAVA)", "Status", "Error")
	tbl.WithWriter(w)
	tbl.WithHeaderFormatter(headerFmt)

	for _, p := range points {
		status := p.Status
		switch status {
		case storage.StatusOK:
			status = green(status)
		case report.MarkerPruned:
			status = yellow(status)
		default:
			status = red(status)
		}
		errMsg := ""
		if p.Error != nil {
			errMsg = sanitizeInline(*p.Error)
		}
		tbl.AddRow(
			p.TargetDate.Format(dateLayout),
			formatHeight(p.Height),
			formatLava(p.Supply, 0),
			formatLava(p.SupplyDiff, 2),
			status,
			errMsg,
		)
	}
	tbl.Print()
}

func formatLava(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.Div(ulava).StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(cleaned, "\r", " ")
}
