package notify

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// StatusInput agrupa todo lo que imprime PrintStatus.
type StatusInput struct {
	Portfolio   domain.PortfolioState
	Bankroll    float64 // capital inicial, para el retorno
	OpenTrades  []domain.Trade
	Weights     []domain.ModelWeight
	Calibration []domain.CalibrationState
	Costs       []domain.ModelCost
}

// PrintStatus imprime el informe de estado: portfolio, posiciones, pesos,
// calibración y gasto en LLM.
func (c *Console) PrintStatus(in StatusInput) {
	ret := 0.0
	if in.Bankroll > 0 {
		ret = (in.Portfolio.TotalValue/in.Bankroll - 1) * 100
	}
	fmt.Fprintf(c.out, "\n=== PORTFOLIO [%s] ===\n", time.Now().Format("2006-01-02 15:04"))
	fmt.Fprintf(c.out, "  cash $%.2f | total $%.2f (%+.2f%%) | open %d\n",
		in.Portfolio.Cash, in.Portfolio.TotalValue, ret, len(in.OpenTrades))

	if len(in.OpenTrades) > 0 {
		fmt.Fprintln(c.out, "\n--- Open positions ---")
		table := tablewriter.NewWriter(c.out)
		table.Header("Market", "Side", "Size", "Fill", "Edge", "Kelly", "Mode")
		for _, t := range in.OpenTrades {
			mode := "paper"
			if !t.IsPaper {
				mode = "live"
			}
			table.Append(
				compactName(t.MarketID, 32),
				string(t.Side),
				fmt.Sprintf("$%.2f", t.Size),
				fmt.Sprintf("%.3f", t.FillPrice),
				fmt.Sprintf("%+.3f", t.Edge),
				fmt.Sprintf("%.3f", t.KellyFraction),
				mode,
			)
		}
		table.Render()
	}

	if len(in.Weights) > 0 {
		fmt.Fprintln(c.out, "\n--- Model weights ---")
		table := tablewriter.NewWriter(c.out)
		table.Header("Model", "Weight", "Brier 30d", "Resolved", "Status")
		for _, w := range in.Weights {
			status := "active"
			if w.Killed {
				status = "KILLED"
			}
			table.Append(
				w.Model,
				fmt.Sprintf("%.3f", w.Weight),
				fmt.Sprintf("%.4f", w.RollingBrier),
				fmt.Sprintf("%d", w.ResolvedCount),
				status,
			)
		}
		table.Render()
	}

	if len(in.Calibration) > 0 {
		fmt.Fprintln(c.out, "\n--- Calibration ---")
		table := tablewriter.NewWriter(c.out)
		table.Header("Domain", "Model", "Brier", "N", "Weight", "τ", "Alert")
		for _, s := range in.Calibration {
			alert := ""
			if s.Alert {
				alert = "!!"
			}
			tau := "-"
			if s.EntropyThreshold > 0 {
				tau = fmt.Sprintf("%.2f", s.EntropyThreshold)
			}
			table.Append(
				string(s.Domain),
				s.Model,
				fmt.Sprintf("%.4f", s.BrierScore),
				fmt.Sprintf("%d", s.ResolvedCount),
				fmt.Sprintf("%.2f", s.DomainWeight),
				tau,
				alert,
			)
		}
		table.Render()
	}

	if len(in.Costs) > 0 {
		fmt.Fprintln(c.out, "\n--- LLM spend ---")
		var total float64
		table := tablewriter.NewWriter(c.out)
		table.Header("Model", "Calls", "Tokens in", "Tokens out", "USD")
		for _, m := range in.Costs {
			total += m.CostUSD
			table.Append(
				m.Model,
				fmt.Sprintf("%d", m.Calls),
				fmt.Sprintf("%d", m.TokensIn),
				fmt.Sprintf("%d", m.TokensOut),
				fmt.Sprintf("$%.4f", m.CostUSD),
			)
		}
		table.Render()
		fmt.Fprintf(c.out, "  total $%.4f\n", total)
	}
	fmt.Fprintln(c.out)
}
