package engine

import (
	"fmt"

	"appbee/internal/domain"
)

var lifecycle = []domain.TaskStatus{domain.TaskPublished, domain.TaskClaimed, domain.TaskSubmitted, domain.TaskApproved}

// ensureTaskTransition is the lifecycle table. Status only moves forward;
// approval is reachable from every open state.
func ensureTaskTransition(from, to domain.TaskStatus) error {
	switch from {
	case domain.TaskPublished:
		if to == domain.TaskClaimed || to == domain.TaskSubmitted || to == domain.TaskApproved {
			return nil
		}
	case domain.TaskClaimed:
		if to == domain.TaskSubmitted || to == domain.TaskApproved {
			return nil
		}
	case domain.TaskSubmitted:
		if to == domain.TaskApproved {
			return nil
		}
	}
	return domain.Errorf(domain.KindInvalidState, "invalid task status transition %s -> %s", from, to)
}

// sourcesFor lists the states from which to is reachable.
func sourcesFor(to domain.TaskStatus) []domain.TaskStatus {
	var out []domain.TaskStatus
	for _, s := range lifecycle {
		if ensureTaskTransition(s, to) == nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		panic(fmt.Sprintf("no transition leads to %s", to))
	}
	return out
}
