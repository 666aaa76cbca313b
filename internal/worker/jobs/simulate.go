package jobs

import (
	"hash/fnv"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

const (
	defaultSymbol  = "SPY"
	defaultCapital = 10_000
	defaultDays    = 252
	maxDays        = 2520

	defaultFastPeriod = 10
	maxPeriod         = 200

	tradingDaysPerYear = 252

	// Synthetic price path parameters.
	startPrice = 100.0
	dailyDrift = 0.0003
	dailyVol   = 0.02
)

// simulationInput holds the resolved parameters for one backtest run.
// Zero values are replaced with defaults by normalized.
type simulationInput struct {
	Symbol         string
	InitialCapital float64
	Days           int
	FastPeriod     int
	SlowPeriod     int
	Seed           int64
}

func (in simulationInput) normalized() simulationInput {
	if in.Symbol == "" {
		in.Symbol = defaultSymbol
	}
	if in.InitialCapital <= 0 {
		in.InitialCapital = defaultCapital
	}
	if in.FastPeriod < 2 {
		in.FastPeriod = defaultFastPeriod
	}
	if in.FastPeriod > maxPeriod {
		in.FastPeriod = maxPeriod
	}
	if in.SlowPeriod <= in.FastPeriod {
		in.SlowPeriod = in.FastPeriod * 2
	}
	if in.SlowPeriod > 2*maxPeriod {
		in.SlowPeriod = 2 * maxPeriod
	}
	if in.Days <= 0 {
		in.Days = defaultDays
	}
	if in.Days > maxDays {
		in.Days = maxDays
	}
	// The strategy needs a full slow window of history before its
	// first signal, plus room to actually trade.
	if in.Days <= in.SlowPeriod {
		in.Days = in.SlowPeriod + defaultDays
	}
	return in
}

// simulationSeed derives a stable RNG seed from the backtest id so
// reruns of the same backtest produce the same result.
func simulationSeed(backtestID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(backtestID))
	return int64(h.Sum64())
}

// runBacktest simulates a moving average crossover strategy on a
// synthetic geometric Brownian motion price path. The strategy is long
// while the fast average is above the slow one, flat otherwise, with
// signals acting on the next bar.
func runBacktest(in simulationInput) map[string]any {
	in = in.normalized()

	rng := rand.New(rand.NewSource(in.Seed))
	prices := make([]float64, in.Days)
	price := startPrice
	for i := range prices {
		price *= math.Exp(dailyDrift + dailyVol*rng.NormFloat64())
		prices[i] = price
	}

	fast := smaSeries(prices, in.FastPeriod)
	slow := smaSeries(prices, in.SlowPeriod)

	var (
		equity  = in.InitialCapital
		peak    = in.InitialCapital
		maxDD   float64
		returns = make([]float64, 0, in.Days-in.SlowPeriod)

		long   bool
		entry  float64
		trades int
		wins   int
	)

	for i := in.SlowPeriod; i < in.Days; i++ {
		dayReturn := 0.0
		if long {
			dayReturn = prices[i]/prices[i-1] - 1
		}
		equity *= 1 + dayReturn
		returns = append(returns, dayReturn)

		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}

		signal := fast[i] > slow[i]
		switch {
		case signal && !long:
			long = true
			entry = equity
		case !signal && long:
			long = false
			trades++
			if equity > entry {
				wins++
			}
		}
	}
	// Close out a position still open at the end of the path.
	if long {
		trades++
		if equity > entry {
			wins++
		}
	}

	winRate := 0.0
	if trades > 0 {
		winRate = float64(wins) / float64(trades)
	}

	sharpe := 0.0
	if len(returns) > 1 {
		if sd := stat.StdDev(returns, nil); sd > 0 {
			sharpe = stat.Mean(returns, nil) / sd * math.Sqrt(tradingDaysPerYear)
		}
	}

	return map[string]any{
		"symbol":          in.Symbol,
		"days":            in.Days,
		"initial_capital": in.InitialCapital,
		"final_equity":    round6(equity),
		"total_return":    round6(equity/in.InitialCapital - 1),
		"max_drawdown":    round6(maxDD),
		"sharpe_ratio":    round6(sharpe),
		"num_trades":      trades,
		"win_rate":        round6(winRate),
	}
}

// smaSeries returns the simple moving average of prices for the given
// period. Entries before one full period are zero and never consulted.
func smaSeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
