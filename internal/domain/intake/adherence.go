package intake

import "math"

// Summary aggregates adherence over a record set. Recomputable at any time
// from the ledger; never itself a source of truth.
type Summary struct {
	Total         int `json:"total"`
	Taken         int `json:"taken"`
	Missed        int `json:"missed"`
	AdherenceRate int `json:"adherenceRate"`
}

// Summarize computes taken/missed/total counts and the adherence rate
// (taken / total x 100, rounded) over the given records.
func Summarize(logs []*IntakeLog) Summary {
	s := Summary{Total: len(logs)}
	for _, l := range logs {
		switch l.Status {
		case StatusTaken:
			s.Taken++
		case StatusMissed:
			s.Missed++
		}
	}
	if s.Total > 0 {
		s.AdherenceRate = int(math.Round(float64(s.Taken) / float64(s.Total) * 100))
	}
	return s
}
