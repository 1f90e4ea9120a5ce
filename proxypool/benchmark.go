package manager

import (
	"context"
)

// SourceReport is the funnel of one source: how many proxies it yielded,
// how many passed the checks and how many the detector let through.
type SourceReport struct {
	Source  string
	Total   int
	Clean   int
	Working int
	Err     error
}

// Benchmark runs acquire -> clean -> verify against each source of the
// protocol in isolation. It never touches storage or the current set.
func (m *Manager) Benchmark(ctx context.Context) ([]SourceReport, error) {
	l := runLogger()
	sources := m.aggregator.Sources(m.protocol)
	l.Warn().Int("sources", len(sources)).Msg("Benchmarking sources, nothing will be written to storage.")

	reports := make([]SourceReport, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		report := SourceReport{Source: src.Name()}
		raw := m.aggregator.Only(m.protocol, src).Acquire(ctx, m.protocol)
		report.Total = raw.Len()

		if raw.Len() > 0 {
			cleaned := m.cleaner.Clean(ctx, raw, m.maxWorkers)
			report.Clean = cleaned.Len()

			if cleaned.Len() > 0 {
				working, err := m.detector.Verify(ctx, cleaned)
				if err != nil {
					l.Error().Err(err).Str("source", report.Source).Msg("Detection failed for source.")
					report.Err = err
				} else {
					report.Working = working.Len()
				}
			}
		}

		if report.Working > 0 {
			l.Info().Str("source", report.Source).Int("total", report.Total).Int("clean", report.Clean).Int("working", report.Working).Msg("Source contains valid proxies.")
		} else {
			l.Info().Str("source", report.Source).Int("total", report.Total).Int("clean", report.Clean).Msg("Source has no valid proxies.")
		}
		reports = append(reports, report)
	}
	return reports, nil
}
