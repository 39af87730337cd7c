package features

import (
	"time"

	"txn-anomaly-lab/internal/domain"
)

// DefaultWindow is the trailing window used for tx_count_last_5min.
const DefaultWindow = 5 * time.Minute

// ComputeTimelineFeatures derives the feature vector of every entry on one
// account timeline in a single forward scan. The result is aligned with
// tl.Entries. The timeline must already be time-ordered.
//
// Formulas:
//   - balance_ratio = amount / balance, NULL if balance is zero
//   - hour_of_day = hour of the timestamp (UTC)
//   - time_since_last_tx = timestamp[t] - timestamp[t-1] in seconds, NULL if first row
//   - tx_count_last_window = COUNT(*) over (timestamp[t] - window, timestamp[t]]
func ComputeTimelineFeatures(tl *AccountTimeline, window time.Duration) []*domain.FeatureVector {
	if len(tl.Entries) == 0 {
		return nil
	}

	result := make([]*domain.FeatureVector, len(tl.Entries))
	win := newSlidingWindow(window)

	var prevTs time.Time
	for i, e := range tl.Entries {
		r := e.Record
		fv := rowFeatures(r)

		if i > 0 {
			gap := r.Timestamp.Sub(prevTs).Seconds()
			fv.TimeSinceLastTx = &gap
		}
		fv.TxCountLastWindow = win.push(r.Timestamp)

		prevTs = r.Timestamp
		result[i] = fv
	}

	return result
}

// rowFeatures fills the features that depend only on the record itself.
func rowFeatures(r *domain.TransactionRecord) *domain.FeatureVector {
	fv := &domain.FeatureVector{
		AccountID:   r.AccountID,
		TxID:        r.TxID,
		Timestamp:   r.Timestamp,
		Amount:      r.Amount,
		HourOfDay:   r.Timestamp.UTC().Hour(),
		IsNewDevice: r.IsNewDevice,
		IsNewIP:     r.IsNewIP,
	}

	if r.Balance != 0 {
		ratio := r.Amount / r.Balance
		fv.BalanceRatio = &ratio
	}

	return fv
}
