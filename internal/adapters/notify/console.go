package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Reporter.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// ReportRun imprime el resumen de un run del pipeline de forecast.
func (c *Console) ReportRun(_ context.Context, r domain.RunReport) error {
	now := r.CompletedAt
	if now.IsZero() {
		now = time.Now()
	}
	if r.Markets == 0 {
		fmt.Fprintf(c.out, "[%s] no markets due for forecast\n", now.Format("15:04:05"))
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] run %s | %d mkts | ok:%d abst:%d fail:%d | trades:%d | $%.4f",
		now.Format("15:04:05"), shortID(r.RunID), r.Markets,
		r.Succeeded, r.Abstained, r.Failed, r.Trades, r.CostUSD)
	if !r.StartedAt.IsZero() && !r.CompletedAt.IsZero() {
		fmt.Fprintf(&sb, " | %s", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(c.out, sb.String())

	if c.table && len(r.Skipped) > 0 {
		reasons := make([]string, 0, len(r.Skipped))
		for k := range r.Skipped {
			reasons = append(reasons, k)
		}
		sort.Slice(reasons, func(i, j int) bool {
			if r.Skipped[reasons[i]] != r.Skipped[reasons[j]] {
				return r.Skipped[reasons[i]] > r.Skipped[reasons[j]]
			}
			return reasons[i] < reasons[j]
		})

		table := tablewriter.NewWriter(c.out)
		table.Header("Skip reason", "Markets")
		for _, k := range reasons {
			table.Append(k, fmt.Sprintf("%d", r.Skipped[k]))
		}
		table.Render()
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// compactName recorta el nombre a maxLen runas.
func compactName(q string, maxLen int) string {
	r := []rune(q)
	if len(r) <= maxLen {
		return q
	}
	return string(r[:maxLen-1]) + "…"
}
