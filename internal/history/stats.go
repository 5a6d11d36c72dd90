package history

import (
	"context"
	"fmt"
)

// StrategyStats summarizes the attempts of one strategy.
type StrategyStats struct {
	Strategy      string  `json:"strategy" msgpack:"strategy"`
	Attempts      int64   `json:"attempts" msgpack:"attempts"`
	Loaded        int64   `json:"loaded" msgpack:"loaded"`
	Errors        int64   `json:"errors" msgpack:"errors"`
	Timeouts      int64   `json:"timeouts" msgpack:"timeouts"`
	PostedErrors  int64   `json:"postedErrors" msgpack:"postedErrors"`
	SuccessRate   float64 `json:"successRate" msgpack:"successRate"`
	AvgLoadMillis float64 `json:"avgLoadMs" msgpack:"avgLoadMs"`
}

// Stats is the operator summary served by the API.
type Stats struct {
	Strategies []StrategyStats   `json:"strategies" msgpack:"strategies"`
	Sessions   map[string]int64 `json:"sessions" msgpack:"sessions"`
}

// Stats flushes buffered rows and aggregates the history. Canceled attempts
// are left out of the success rate.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy,
			COUNT(*) FILTER (WHERE outcome <> 'canceled'),
			COUNT(*) FILTER (WHERE outcome = 'loaded'),
			COUNT(*) FILTER (WHERE outcome = 'error'),
			COUNT(*) FILTER (WHERE outcome = 'timeout'),
			COUNT(*) FILTER (WHERE outcome = 'posted-error'),
			COALESCE(AVG(duration_ms) FILTER (WHERE outcome = 'loaded'), 0)
		FROM attempts
		GROUP BY strategy
		ORDER BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("querying attempt stats: %w", err)
	}
	defer rows.Close()

	out := &Stats{
		Strategies: make([]StrategyStats, 0),
		Sessions:   make(map[string]int64),
	}
	for rows.Next() {
		var st StrategyStats
		if err := rows.Scan(&st.Strategy, &st.Attempts, &st.Loaded, &st.Errors, &st.Timeouts, &st.PostedErrors, &st.AvgLoadMillis); err != nil {
			return nil, fmt.Errorf("scanning attempt stats: %w", err)
		}
		if st.Attempts > 0 {
			st.SuccessRate = float64(st.Loaded) / float64(st.Attempts)
		}
		out.Strategies = append(out.Strategies, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	modeRows, err := s.db.QueryContext(ctx, `SELECT display_mode, COUNT(*) FROM sessions GROUP BY display_mode`)
	if err != nil {
		return nil, fmt.Errorf("querying session stats: %w", err)
	}
	defer modeRows.Close()
	for modeRows.Next() {
		var (
			mode  string
			count int64
		)
		if err := modeRows.Scan(&mode, &count); err != nil {
			return nil, fmt.Errorf("scanning session stats: %w", err)
		}
		out.Sessions[mode] = count
	}
	return out, modeRows.Err()
}
