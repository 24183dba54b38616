package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/portfolio"
	"github.com/aristath/riskengine/internal/server"
)

// EODValuationJob submits the end-of-day exposure run for the portfolio
// file in the data directory. Runs are executed by the server's run
// manager like any API-submitted run.
type EODValuationJob struct {
	runs    *server.RunManager
	dataDir string
	samples int
	threads int
	seed    int64
	log     zerolog.Logger
}

// NewEODValuationJob creates the job.
func NewEODValuationJob(runs *server.RunManager, dataDir string, samples, threads int, seed int64, log zerolog.Logger) *EODValuationJob {
	return &EODValuationJob{
		runs:    runs,
		dataDir: dataDir,
		samples: samples,
		threads: threads,
		seed:    seed,
		log:     log.With().Str("component", "eod_valuation").Logger(),
	}
}

// Name implements Job.
func (j *EODValuationJob) Name() string { return "eod-valuation" }

// Run implements Job.
func (j *EODValuationJob) Run() error {
	path := filepath.Join(j.dataDir, "portfolio.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading portfolio file %s: %w", path, err)
	}
	p, err := portfolio.FromJSON(string(raw))
	if err != nil {
		return err
	}

	asof := time.Now().UTC().Truncate(24 * time.Hour)
	// Monthly exposure grid over one year.
	dates := make([]string, 12)
	for i := range dates {
		dates[i] = asof.AddDate(0, i+1, 0).Format("2006-01-02")
	}

	run, err := j.runs.Submit(server.RunRequest{
		Asof:           asof.Format("2006-01-02"),
		ValuationDates: dates,
		Samples:        j.samples,
		Threads:        j.threads,
		Seed:           j.seed,
		Trades:         p.Trades(),
	})
	if err != nil {
		return err
	}
	j.log.Info().Str("run_id", run.ID).Int("trades", p.Size()).Msg("Submitted end-of-day valuation run")
	return nil
}
