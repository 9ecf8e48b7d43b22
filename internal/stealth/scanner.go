// scanner.go - Parallel announcement scanning.

package stealth

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Match is an announcement that belongs to the scanning keys.
type Match struct {
	Announcement Announcement
	Result       *ScanResult
}

// ScanAnnouncements checks a batch of announcements in parallel and returns
// the matches in input order. Announcements whose commitment does not bind
// them to keys are skipped. workers <= 0 means GOMAXPROCS.
func ScanAnnouncements(ctx context.Context, keys *Keys, anns []Announcement, workers int) ([]Match, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	found := make([]*ScanResult, len(anns))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range anns {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a := &anns[i]
			if !VerifyCommitment(a.Commitment, a.EphemeralPub, keys.ScanPub, keys.SpendPub, a.StealthAddress) {
				return nil
			}
			if res, ok := ScanPayment(keys, a.EphemeralPub, a.StealthAddress); ok {
				found[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range found {
			r.Wipe()
		}
		return nil, err
	}

	var out []Match
	for i, r := range found {
		if r != nil {
			out = append(out, Match{Announcement: anns[i], Result: r})
		}
	}
	return out, nil
}
