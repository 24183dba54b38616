// Package main is a command line runner for one-off exposure
// simulations: it loads (or seeds) the market database, reads a
// portfolio file and prints the per-trade exposure profile.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aristath/riskengine/internal/config"
	"github.com/aristath/riskengine/internal/cube"
	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/engine"
	"github.com/aristath/riskengine/internal/market"
	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/simulation"
	"github.com/aristath/riskengine/pkg/logger"
)

func main() {
	var (
		portfolioPath = flag.String("portfolio", "", "portfolio JSON file (required)")
		asofStr       = flag.String("asof", time.Now().UTC().Format("2006-01-02"), "valuation date (YYYY-MM-DD)")
		months        = flag.Int("months", 12, "number of monthly exposure dates")
		samples       = flag.Int("samples", 0, "Monte Carlo samples (0 = config default)")
		threads       = flag.Int("threads", 0, "worker threads (0 = config default)")
		closeOutLag   = flag.Int("mpor", 0, "close-out lag in days (0 = no margin period of risk)")
		sticky        = flag.Bool("sticky", false, "use the sticky-date close-out convention")
		seed          = flag.Int64("seed", 0, "generator seed (0 = config default)")
		seedDemo      = flag.Bool("seed-demo-market", false, "seed a demo EUR/USD market into the market database first")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})

	if *portfolioPath == "" {
		fmt.Fprintln(os.Stderr, "error: -portfolio is required")
		flag.Usage()
		os.Exit(2)
	}
	asof, err := time.Parse("2006-01-02", *asofStr)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid asof date")
	}
	if *samples <= 0 {
		*samples = cfg.Samples
	}
	if *threads <= 0 {
		*threads = cfg.Threads
	}
	if *seed == 0 {
		*seed = cfg.Seed
	}

	marketDB, err := database.New(database.Config{
		Path:    cfg.MarketDBPath,
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	repo := market.NewRepository(marketDB, log)
	if err := repo.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market schema")
	}
	if *seedDemo {
		if err := seedDemoMarket(repo); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed demo market")
		}
		log.Info().Msg("Seeded demo EUR/USD market")
	}

	raw, err := os.ReadFile(*portfolioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read portfolio file")
	}
	p, err := portfolio.FromJSON(string(raw))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse portfolio file")
	}

	snapshot, err := repo.LoadSnapshot(asof)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load market snapshot")
	}

	dates := make([]time.Time, *months)
	for i := range dates {
		dates[i] = asof.AddDate(0, i+1, 0)
	}
	grid, err := simulation.NewDateGridWithCloseOut(asof, dates, *closeOutLag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build date grid")
	}
	sgd, err := simulation.NewScenarioGeneratorData(grid, *samples, *seed, *closeOutLag > 0, *sticky)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scenario parameters")
	}

	eng, err := engine.NewMultiThreadedEngine(sgd, snapshot, *threads)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}
	eng.SetProgressCallback(func(completed, total int, message string) {
		log.Debug().Int("completed", completed).Int("total", total).Msg(message)
	})

	out, report, err := eng.BuildCube(p)
	if err != nil {
		log.Fatal().Err(err).Msg("Valuation run failed")
	}

	printResults(out, p, grid)
	log.Info().
		Str("run_id", report.RunID).
		Int("threads", report.Threads).
		Dur("total", report.Total).
		Msg("Run finished")
}

// printResults writes per-trade T0 NPVs and mean exposures per date to
// stdout.
func printResults(c cube.Cube, p *portfolio.Portfolio, grid *simulation.DateGrid) {
	idx := c.IDsAndIndexes()
	fmt.Printf("%-12s %14s", "trade", "t0 npv")
	for _, d := range grid.ValuationDates() {
		fmt.Printf(" %12s", d.Format("2006-01-02"))
	}
	fmt.Println()

	for _, id := range p.IDs() {
		row := idx[id]
		t0, err := c.GetT0(row, cube.DepthValuation)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		fmt.Printf("%-12s %14.4f", id, t0)
		for d := 0; d < c.NumDates(); d++ {
			var sum float64
			for s := 0; s < c.Samples(); s++ {
				v, err := c.Get(row, d, s, cube.DepthValuation)
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					os.Exit(1)
				}
				sum += v
			}
			fmt.Printf(" %12.4f", sum/float64(c.Samples()))
		}
		fmt.Println()
	}
}

// seedDemoMarket writes a small EUR base market with a USD leg, enough
// to run the bundled example portfolios.
func seedDemoMarket(repo *market.Repository) error {
	if err := repo.SaveCurrencies([]string{"EUR", "USD"}); err != nil {
		return err
	}
	quotes := []struct {
		kind  string
		key   string
		value float64
	}{
		{market.QuoteZeroRate, "EUR", 0.02},
		{market.QuoteZeroRate, "USD", 0.045},
		{market.QuoteFXSpot, "USD", 0.92},
		{market.QuoteIRVol, "EUR", 0.01},
		{market.QuoteIRVol, "USD", 0.012},
		{market.QuoteReversion, "EUR", 0.03},
		{market.QuoteReversion, "USD", 0.02},
		{market.QuoteFXVol, "USD", 0.10},
	}
	for _, q := range quotes {
		if err := repo.SaveQuote(q.kind, q.key, q.value); err != nil {
			return err
		}
	}
	return nil
}
