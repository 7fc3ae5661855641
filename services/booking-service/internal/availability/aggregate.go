package availability

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// AnyProfessional is the staff id sentinel for "no preference" bookings.
const AnyProfessional = "any"

const defaultAggregateConcurrency = 8

// SlotLoader computes one staff member's slots for the date being aggregated.
type SlotLoader func(ctx context.Context, staffID string) ([]TimeSlot, error)

type StaffFailure struct {
	StaffID string
	Err     error
}

type AggregateResult struct {
	// Slots is the ascending, de-duplicated union of bookable times, all marked available.
	Slots []TimeSlot
	// StaffByTime lists, per bookable time, the staff free at that time in input order.
	StaffByTime map[Clock][]string
	Failures    []StaffFailure
}

// Candidates returns the staff ids free at t, in the order the eligible staff were supplied.
func (r AggregateResult) Candidates(t Clock) []string {
	return r.StaffByTime[t]
}

// Assign picks the staff member to book at t.
func (r AggregateResult) Assign(t Clock) (string, bool) {
	ids := r.StaffByTime[t]
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// Aggregate loads every eligible staff member's slots concurrently and merges the free times.
// A staff member whose load fails is left out of the union and reported in Failures; the
// aggregation itself never fails. Results are merged in input order, so the outcome does not
// depend on goroutine scheduling.
func Aggregate(ctx context.Context, staffIDs []string, load SlotLoader, concurrency int) AggregateResult {
	if concurrency <= 0 {
		concurrency = defaultAggregateConcurrency
	}

	type staffResult struct {
		slots []TimeSlot
		err   error
	}
	results := make([]staffResult, len(staffIDs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range staffIDs {
		g.Go(func() error {
			slots, err := load(ctx, id)
			results[i] = staffResult{slots: slots, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := AggregateResult{StaffByTime: map[Clock][]string{}}
	seen := map[string]struct{}{}
	for i, id := range staffIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		res := results[i]
		if res.err != nil {
			out.Failures = append(out.Failures, StaffFailure{StaffID: id, Err: res.err})
			continue
		}
		for _, s := range res.slots {
			if !s.Available {
				continue
			}
			ids := out.StaffByTime[s.Time]
			if len(ids) > 0 && ids[len(ids)-1] == id {
				continue
			}
			out.StaffByTime[s.Time] = append(ids, id)
		}
	}

	times := make([]Clock, 0, len(out.StaffByTime))
	for t := range out.StaffByTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	out.Slots = make([]TimeSlot, 0, len(times))
	for _, t := range times {
		out.Slots = append(out.Slots, TimeSlot{Time: t, Available: true})
	}
	return out
}
