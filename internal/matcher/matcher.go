// Package matcher attributes headlines to anchors with a deterministic
// three-pass scan over a fixed taxonomy snapshot.
package matcher

import (
	"sort"

	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/normalize"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

// Result is the outcome of matching one headline.
type Result struct {
	// AnchorIDs is the union of matched anchors across all passes, ascending.
	AnchorIDs []int64
	// PassByAnchor records the lowest pass number that matched each anchor.
	PassByAnchor map[int64]int
	// Status is the terminal matcher status: assigned, blocked_stopword or
	// out_of_scope. The matcher never sets blocked_relevance.
	Status string
}

// Match runs all three passes against a canonicalized headline. The passes
// are accumulative, never short-circuiting: a pass-1 hit does not suppress
// pass-2 or pass-3 evidence. maxAnchors bounds the result when positive,
// preferring earlier-pass matches; zero means uncapped.
//
// Given the same Doc and the same taxonomy snapshot, Match always returns
// the same Result.
func Match(idx *taxonomy.Index, doc normalize.Doc, maxAnchors int) Result {
	passByAnchor := make(map[int64]int)
	stopDiscarded := false

	for _, pass := range []int{taxonomy.PassGeographic, taxonomy.PassThematic, taxonomy.PassCatchAll} {
		for _, hit := range idx.PassMatches(pass, doc) {
			if pass == taxonomy.PassThematic && hit.Stop {
				// Stop-word filtering applies to thematic aliases only;
				// pass 1/3 anchors are precise enough to keep every hit.
				stopDiscarded = true
				continue
			}
			if _, seen := passByAnchor[hit.AnchorID]; !seen {
				passByAnchor[hit.AnchorID] = pass
			}
		}
	}

	anchorIDs := make([]int64, 0, len(passByAnchor))
	for anchorID := range passByAnchor {
		anchorIDs = append(anchorIDs, anchorID)
	}
	sort.Slice(anchorIDs, func(i, j int) bool {
		if passByAnchor[anchorIDs[i]] != passByAnchor[anchorIDs[j]] {
			return passByAnchor[anchorIDs[i]] < passByAnchor[anchorIDs[j]]
		}
		return anchorIDs[i] < anchorIDs[j]
	})

	if maxAnchors > 0 && len(anchorIDs) > maxAnchors {
		for _, dropped := range anchorIDs[maxAnchors:] {
			delete(passByAnchor, dropped)
		}
		anchorIDs = anchorIDs[:maxAnchors]
	}

	sort.Slice(anchorIDs, func(i, j int) bool { return anchorIDs[i] < anchorIDs[j] })

	status := db.HeadlineStatusOutOfScope
	switch {
	case len(anchorIDs) > 0:
		status = db.HeadlineStatusAssigned
	case stopDiscarded:
		status = db.HeadlineStatusBlockedStopword
	}

	return Result{
		AnchorIDs:    anchorIDs,
		PassByAnchor: passByAnchor,
		Status:       status,
	}
}
