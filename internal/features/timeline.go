package features

import (
	"sort"

	"txn-anomaly-lab/internal/domain"
)

// TimelineEntry is one transaction on an account timeline.
type TimelineEntry struct {
	Index  int // position of the record in the input log
	Record *domain.TransactionRecord
}

// AccountTimeline is the time-ordered view of a single account's transactions.
// Entries never mix accounts and timestamps are non-decreasing.
type AccountTimeline struct {
	AccountID string
	Entries   []TimelineEntry

	// Reordered is true when arrival order was not already time-ordered.
	Reordered bool
	// Backstep is the input index of the first entry that arrived earlier in
	// time than its predecessor, or -1.
	Backstep int
}

// BuildTimelines groups records by account, preserving the order in which
// accounts first appear. Each group is stable-sorted by timestamp so that
// equal timestamps keep their arrival order.
func BuildTimelines(records []*domain.TransactionRecord) []*AccountTimeline {
	byAccount := make(map[string]*AccountTimeline)
	var timelines []*AccountTimeline

	for i, r := range records {
		tl, ok := byAccount[r.AccountID]
		if !ok {
			tl = &AccountTimeline{AccountID: r.AccountID, Backstep: -1}
			byAccount[r.AccountID] = tl
			timelines = append(timelines, tl)
		}
		tl.Entries = append(tl.Entries, TimelineEntry{Index: i, Record: r})
	}

	for _, tl := range timelines {
		if i := tl.firstBackstep(); i >= 0 {
			tl.Reordered = true
			tl.Backstep = tl.Entries[i].Index
			SortTimeline(tl)
		}
	}

	return timelines
}

// SortTimeline orders entries by (timestamp ASC, input index ASC).
func SortTimeline(tl *AccountTimeline) {
	sort.SliceStable(tl.Entries, func(i, j int) bool {
		return tl.Entries[i].Record.Timestamp.Before(tl.Entries[j].Record.Timestamp)
	})
}

// IsSorted reports whether timestamps are non-decreasing.
func (tl *AccountTimeline) IsSorted() bool {
	return tl.firstBackstep() < 0
}

func (tl *AccountTimeline) firstBackstep() int {
	for i := 1; i < len(tl.Entries); i++ {
		if tl.Entries[i].Record.Timestamp.Before(tl.Entries[i-1].Record.Timestamp) {
			return i
		}
	}
	return -1
}
