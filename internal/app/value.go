package app

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/rodaine/table"

	"lava-reports/internal/normalize"
	"lava-reports/internal/pricing"
	"lava-reports/internal/report"
)

var tokenPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([a-zA-Z][a-zA-Z0-9/._:-]*)$`)

// ParseTokens turns arguments such as "5000000ulava" or "12ibc/ABCD" into
// token amounts.
func ParseTokens(args []string) ([]normalize.TokenAmount, error) {
	tokens := make([]normalize.TokenAmount, 0, len(args))
	for _, arg := range args {
		m := tokenPattern.FindStringSubmatch(strings.TrimSpace(arg))
		if m == nil {
			return nil, fmt.Errorf("invalid token %q: want <amount><denom>", arg)
		}
		tokens = append(tokens, normalize.TokenAmount{Amount: m[1], Denom: m[2]})
	}
	return tokens, nil
}

// Value prices a list of raw token amounts and prints the result.
func (a *App) Value(ctx context.Context, opts ValueOptions) error {
	tokens, err := ParseTokens(opts.Tokens)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no tokens given")
	}

	return a.withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
		rep := rt.builder.Value(ctx, tokens)
		printValue(a.out, rep, rt.rates.Snapshot())
		if !opts.Save {
			return nil
		}
		_, err := a.publish(ctx, rep)
		return err
	})
}

func printValue(w io.Writer, rep *report.ValueReport, rates []pricing.Entry) {
	headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	tbl := table.New("Denom", "Original", "Amount", "Base", "USD")
	tbl.WithWriter(w)
	tbl.WithHeaderFormatter(headerFmt)
	for _, tok := range rep.Result.Tokens {
		tbl.AddRow(tok.Denom, tok.OriginalDenom, tok.Amount, tok.BaseAmount.String(), green("$"+tok.ValueUSD.StringFixed(2)))
	}
	tbl.Print()
	fmt.Fprintf(w, "Total: %s\n", green("$"+rep.Result.TotalUSD.StringFixed(2)))

	if len(rep.Dropped) > 0 {
		fmt.Fprintln(w)
		dropped := table.New("Amount", "Denom", "Reason")
		dropped.WithWriter(w)
		dropped.WithHeaderFormatter(headerFmt)
		for _, d := range rep.Dropped {
			dropped.AddRow(d.Amount, d.Denom, red(d.Reason))
		}
		dropped.Print()
	}

	if len(rates) == 0 {
		return
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i].CoinID < rates[j].CoinID })
	fmt.Fprintln(w)
	quotes := table.New("Coin", "USD", "Fetched")
	quotes.WithWriter(w)
	quotes.WithHeaderFormatter(headerFmt)
	for _, e := range rates {
		quotes.AddRow(e.CoinID, e.RateUSD.String(), e.FetchedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	quotes.Print()
}
