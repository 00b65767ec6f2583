package core

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// Analyzer answers lap-time queries. It only reads.
type Analyzer struct {
	store store.Store
}

// NewAnalyzer creates an analyzer over st.
func NewAnalyzer(st store.Store) *Analyzer {
	return &Analyzer{store: st}
}

// TopLapTimes returns the fastest percentage of a driver's valid laps that
// pass f, fastest first. Laps with equal times keep their stored order.
//
// percentage must be in (0, 100]. The count is ceil(n * percentage / 100),
// so any non-empty lap set yields at least one lap.
func (a *Analyzer) TopLapTimes(ctx context.Context, driverID int64, percentage float64, f timing.FilterCriteria) ([]timing.LapTime, error) {
	if err := validatePercentage(percentage); err != nil {
		return nil, err
	}
	if _, err := a.store.GetDriver(ctx, driverID); err != nil {
		return nil, err
	}

	laps, err := a.store.DriverLaps(ctx, driverID, f)
	if err != nil {
		return nil, err
	}
	laps = lo.Filter(laps, func(l timing.DriverLap, _ int) bool { return l.Valid() })

	slices.SortStableFunc(laps, func(x, y timing.DriverLap) int {
		switch {
		case x.LapTimeMillis < y.LapTimeMillis:
			return -1
		case x.LapTimeMillis > y.LapTimeMillis:
			return 1
		}
		return 0
	})

	n := topCount(len(laps), percentage)
	return lo.Map(laps[:n], func(l timing.DriverLap, _ int) timing.LapTime {
		return timing.NewLapTime(l)
	}), nil
}

// topCount is ceil(n*pct/100) clamped to [1, n] for a non-empty set. The
// product is rounded to nine decimals first so float noise such as
// 5*40/100 = 2.0000000000000004 does not round up to the next lap.
func topCount(n int, pct float64) int {
	if n <= 0 || pct <= 0 {
		return 0
	}
	x := math.Round(float64(n)*pct/100*1e9) / 1e9
	return max(1, min(int(math.Ceil(x)), n))
}

// EventLapAnalysis summarises the valid laps of an event passing f, overall
// and per driver. Every average covers the fastest percentage of its own lap
// set; fastest and median cover the whole set. Drivers are ranked by average,
// fastest first, and offset/limit page that ranking only (limit 0 returns
// every driver).
func (a *Analyzer) EventLapAnalysis(ctx context.Context, eventID int64, percentage float64, f timing.EventLapFilter, offset, limit int) (timing.EventLapAnalysis, error) {
	if err := validatePercentage(percentage); err != nil {
		return timing.EventLapAnalysis{}, err
	}
	if offset < 0 || limit < 0 {
		return timing.EventLapAnalysis{}, fmt.Errorf("%w: offset and limit must not be negative", timing.ErrInvalidArgument)
	}
	if _, err := a.store.GetEvent(ctx, eventID); err != nil {
		return timing.EventLapAnalysis{}, err
	}

	laps, err := a.store.EventLaps(ctx, eventID, f)
	if err != nil {
		return timing.EventLapAnalysis{}, err
	}
	laps = lo.Filter(laps, func(l timing.DriverLap, _ int) bool { return l.Valid() })

	drivers := make([]timing.DriverLapStats, 0)
	for driverID, own := range lo.GroupBy(laps, func(l timing.DriverLap) int64 { return l.DriverID }) {
		first := own[0]
		team := first.TeamName
		if team == "" {
			team = timing.UnknownTeam
		}
		drivers = append(drivers, timing.DriverLapStats{
			DriverID:   driverID,
			DriverName: first.DriverName,
			CarEntryID: first.CarEntryID,
			CarNumber:  first.CarNumber,
			CarModel:   first.CarModel,
			TeamName:   team,
			ClassID:    first.ClassID,
			ClassName:  first.ClassName,
			LapStats:   lapStats(own, percentage),
		})
	}
	slices.SortFunc(drivers, func(x, y timing.DriverLapStats) int {
		return cmp.Or(cmp.Compare(x.AverageMillis, y.AverageMillis), cmp.Compare(x.DriverID, y.DriverID))
	})

	return timing.EventLapAnalysis{
		EventID:     eventID,
		Percentage:  percentage,
		Filter:      f,
		Overall:     lapStats(laps, percentage),
		Drivers:     page(drivers, offset, limit),
		DriverCount: len(drivers),
	}, nil
}

// lapStats computes the summary of laps. The median of an even count is the
// mean of the two middle times, rounded to the millisecond.
func lapStats(laps []timing.DriverLap, pct float64) timing.LapStats {
	if len(laps) == 0 {
		return timing.NewLapStats(0, 0, 0, 0, 0)
	}
	times := lo.Map(laps, func(l timing.DriverLap, _ int) int64 { return l.LapTimeMillis })
	slices.Sort(times)

	n := topCount(len(times), pct)
	average := roundMillis(float64(lo.Sum(times[:n])) / float64(n))

	mid := len(times) / 2
	median := times[mid]
	if len(times)%2 == 0 {
		median = roundMillis(float64(times[mid-1]+times[mid]) / 2)
	}
	return timing.NewLapStats(average, times[0], median, len(times), n)
}

func roundMillis(v float64) int64 {
	return int64(math.Round(v))
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func validatePercentage(percentage float64) error {
	if math.IsNaN(percentage) || percentage <= 0 || percentage > 100 {
		return fmt.Errorf("%w: percentage must be greater than 0 and at most 100, got %v",
			timing.ErrInvalidArgument, percentage)
	}
	return nil
}
