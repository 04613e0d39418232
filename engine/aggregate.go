package engine

import (
	"sort"
	"strconv"
	"strings"
	"time"

	iface "PostkasseVision/interface"
)

// StairwellMailbox is one mailbox of a stairwell after combining several
// stills of the same wall.
type StairwellMailbox struct {
	ID              string    `json:"postkasse_id"`
	StairwellID     string    `json:"oppgang_id"`
	KapasitetKlasse string    `json:"kapasitet_klasse"`
	Observations    int       `json:"antall_observasjoner"`
	Conservative    bool      `json:"konservativt_valg"`
	AnalyzedAt      time.Time `json:"tidspunkt"`
}

// Aggregate merges the per-still results of one stairwell by mailbox id.
// When the stills disagree the largest class wins and Conservative is set.
// Output is ordered by the numeric part of the id.
func Aggregate(stairwellID string, stills [][]Mailbox, now time.Time) []StairwellMailbox {
	seen := map[string][]string{}
	var ids []string
	for _, boxes := range stills {
		for _, b := range boxes {
			if _, ok := seen[b.ID]; !ok {
				ids = append(ids, b.ID)
			}
			seen[b.ID] = append(seen[b.ID], b.KapasitetKlasse)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool { return idNumber(ids[i]) < idNumber(ids[j]) })

	out := make([]StairwellMailbox, 0, len(ids))
	for _, id := range ids {
		classes := seen[id]
		best, lo, hi := classes[0], iface.KapasitetRank(classes[0]), iface.KapasitetRank(classes[0])
		for _, k := range classes[1:] {
			r := iface.KapasitetRank(k)
			if r > hi {
				best, hi = k, r
			}
			if r < lo {
				lo = r
			}
		}
		out = append(out, StairwellMailbox{
			ID:              id,
			StairwellID:     stairwellID,
			KapasitetKlasse: best,
			Observations:    len(classes),
			Conservative:    hi != lo,
			AnalyzedAt:      now,
		})
	}
	return out
}

// idNumber returns n for "PK-n", 0 otherwise.
func idNumber(id string) int {
	_, num, ok := strings.Cut(id, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0
	}
	return n
}
