package service

import "github.com/kursadbilgin/callscreen/internal/domain"

var statusPriority = map[domain.Status]int{
	domain.StatusAllowed: 1,
	domain.StatusCaution: 2,
	domain.StatusBlocked: 3,
}

// Reduce folds provider verdicts into one status and confidence. Error and
// timeout verdicts are ignored; with nothing left the result is (error, 0).
// Otherwise the highest priority status wins (blocked, caution, allowed) and
// confidence is the mean over every kept verdict.
func Reduce(verdicts []domain.ProviderVerdict) (domain.Status, float64) {
	var (
		overall domain.Status
		total   float64
		kept    int
	)
	for _, v := range verdicts {
		rank, ok := statusPriority[v.Status]
		if !ok {
			continue
		}
		kept++
		total += v.Confidence
		if rank > statusPriority[overall] {
			overall = v.Status
		}
	}
	if kept == 0 {
		return domain.StatusError, 0
	}
	return overall, total / float64(kept)
}
