package notify

import (
	"fmt"
	"strings"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
)

// FormatEvent renders ev as a title and a plain-text body.
func FormatEvent(ev arbitrage.Event) (string, string) {
	mode := "LIVE"
	if ev.Simulated {
		mode = "SIM"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "market: %s\n", ev.MarketSlug)

	var title string
	switch ev.Kind {
	case arbitrage.EventBuy:
		title = fmt.Sprintf("[%s] BUY %s @ %.4f", mode, ev.Side, ev.FillPrice)
		fmt.Fprintf(&b, "size: %.4f\nthreshold: %.4f\norder: %s", ev.Size, ev.Threshold, ev.OrderID)
	case arbitrage.EventSell, arbitrage.EventTimeoutExit, arbitrage.EventForcedLiquidation:
		title = fmt.Sprintf("[%s] %s %s", mode, strings.ToUpper(strings.ReplaceAll(string(ev.Kind), "_", " ")), ev.Side)
		fmt.Fprintf(&b, "size: %.4f\n", ev.Size)
		if ev.Closed != nil && ev.Closed.PnLKnown {
			fmt.Fprintf(&b, "exit: %.4f\npnl: %+.4f", ev.FillPrice, ev.PnL)
		} else {
			b.WriteString("exit price unknown")
		}
	case arbitrage.EventPairOpened:
		title = fmt.Sprintf("[%s] PAIR opened, cost %.4f", mode, ev.Price)
		fmt.Fprintf(&b, "shares per side: %.4f\nthreshold: %.4f", ev.Size, ev.Threshold)
	case arbitrage.EventPairUnhedged:
		title = fmt.Sprintf("[%s] PAIR unhedged, holding %s only", mode, ev.Side)
		fmt.Fprintf(&b, "token: %s\nsize: %.4f\nentry: %.4f\nheld until settlement or manual exit", ev.TokenID, ev.Size, ev.FillPrice)
	case arbitrage.EventRotation:
		title = "Market rotated"
		fmt.Fprintf(&b, "from: %s\nreason: %s", ev.FromMarket, ev.Reason)
	case arbitrage.EventRotationFailed:
		title = "Market rotation failed"
		fmt.Fprintf(&b, "reason: %s\nerror: %s", ev.Reason, ev.Err)
	case arbitrage.EventOrderRejected:
		title = fmt.Sprintf("[%s] Order rejected (%s %s)", mode, ev.Reason, ev.Side)
		fmt.Fprintf(&b, "price: %.4f\nerror: %s", ev.Price, ev.Err)
	default:
		title = string(ev.Kind)
		b.WriteString(ev.Reason)
	}
	return title, strings.TrimRight(b.String(), "\n")
}

// FormatReport renders the shutdown report.
func FormatReport(r arbitrage.Report) (string, string) {
	var b strings.Builder
	s := r.Stats
	fmt.Fprintf(&b, "market: %s\n", r.Market)
	fmt.Fprintf(&b, "buys %d, sells %d, timeouts %d, forced %d, rotations %d\n",
		s.Buys, s.Sells, s.Timeouts, s.ForcedLiquidations, s.Rotations)
	fmt.Fprintf(&b, "realized pnl: %s\n", s.RealizedPnL.StringFixed(4))
	if len(r.Positions) == 0 {
		b.WriteString("no open positions")
	} else {
		fmt.Fprintf(&b, "open positions (%d, not liquidated):", len(r.Positions))
		for _, p := range r.Positions {
			fmt.Fprintf(&b, "\n  %s %s size %.4f entry %.4f held %.1fm", p.Side, p.TokenID, p.Size, p.EntryPrice, p.HeldMinutes)
		}
	}
	return fmt.Sprintf("dipbot %s stopped", r.Coin), b.String()
}
