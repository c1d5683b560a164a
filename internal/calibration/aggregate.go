package calibration

import (
	"sort"

	"mavgcs/internal/mavlink"
)

// compassAggregate folds per-unit MAG_CAL_PROGRESS/REPORT frames into one
// overall verdict. A multi-compass vehicle reports each unit independently;
// the session is complete only when every unit that ever reported progress
// has delivered its final report.
type compassAggregate struct {
	completion map[uint8]uint8
	reports    map[uint8]mavlink.MagCalReport
}

func newCompassAggregate() *compassAggregate {
	return &compassAggregate{
		completion: make(map[uint8]uint8),
		reports:    make(map[uint8]mavlink.MagCalReport),
	}
}

func (a *compassAggregate) noteProgress(p mavlink.MagCalProgress) {
	a.completion[p.CompassID] = p.CompletionPct
}

func (a *compassAggregate) noteReport(r mavlink.MagCalReport) {
	a.reports[r.CompassID] = r
	a.completion[r.CompassID] = 100
}

// overallCompletion is the average of per-unit completion percentages.
func (a *compassAggregate) overallCompletion() int {
	if len(a.completion) == 0 {
		return 0
	}
	total := 0
	for _, pct := range a.completion {
		total += int(pct)
	}
	return total / len(a.completion)
}

func (a *compassAggregate) complete() bool {
	if len(a.reports) == 0 {
		return false
	}
	for id := range a.completion {
		if _, ok := a.reports[id]; !ok {
			return false
		}
	}
	return true
}

func (a *compassAggregate) failedIDs() []uint8 {
	var ids []uint8
	for id, r := range a.reports {
		if !r.Status.IsSuccess() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
