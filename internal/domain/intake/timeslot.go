package intake

import (
	"fmt"
	"strconv"
	"strings"
)

// parseClock converts an "HH:MM" clock time to minutes since midnight
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	return h*60 + m, nil
}

// ValidateChosenTime checks a single chosen time against its slot window,
// inclusive on both bounds.
func ValidateChosenTime(ct ChosenTime, slot TimeSlot) error {
	chosen, err := parseClock(ct.ClockTime)
	if err != nil {
		return err
	}
	start, err := parseClock(slot.WindowStart)
	if err != nil {
		return fmt.Errorf("slot %s: %w", slot.Label, err)
	}
	end, err := parseClock(slot.WindowEnd)
	if err != nil {
		return fmt.Errorf("slot %s: %w", slot.Label, err)
	}
	if chosen < start || chosen > end {
		return fmt.Errorf("%s outside %s–%s for %s",
			ct.ClockTime, slot.WindowStart, slot.WindowEnd, slot.Label)
	}
	return nil
}

// ValidateChosenTimes checks every chosen time against the declared slots
// and collects all violations: unknown labels, malformed times, times
// outside their window, and declared slots left without a chosen time.
// Returns nil when everything passes.
func ValidateChosenTimes(chosen []ChosenTime, slots []TimeSlot) ValidationErrors {
	byLabel := make(map[string]TimeSlot, len(slots))
	for _, s := range slots {
		byLabel[s.Label] = s
	}

	var violations ValidationErrors
	seen := make(map[string]bool, len(chosen))

	for _, ct := range chosen {
		seen[ct.Label] = true
		slot, ok := byLabel[ct.Label]
		if !ok {
			violations = append(violations, Violation{
				Label:     ct.Label,
				ClockTime: ct.ClockTime,
				Message:   fmt.Sprintf("unknown slot %q", ct.Label),
			})
			continue
		}
		if err := ValidateChosenTime(ct, slot); err != nil {
			violations = append(violations, Violation{
				Label:     ct.Label,
				ClockTime: ct.ClockTime,
				Message:   err.Error(),
			})
		}
	}

	for _, s := range slots {
		if !seen[s.Label] {
			violations = append(violations, Violation{
				Label:   s.Label,
				Message: fmt.Sprintf("no chosen time for slot %s (%s–%s)", s.Label, s.WindowStart, s.WindowEnd),
			})
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return violations
}
