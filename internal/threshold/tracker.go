// Package threshold implements the threshold tracker (spec.md §4.5): a
// pure function deciding which configured percent threshold, if any, a
// new progress reading has newly crossed.
package threshold

// Evaluate returns the lowest threshold t such that t is in configured,
// currentPercent >= t, and t is not in alreadyNotified. The second
// return value is false when no such threshold exists. The caller is
// responsible for adding the returned value to alreadyNotified — this
// function has no side effects.
func Evaluate(currentPercent float64, configured map[float64]struct{}, alreadyNotified map[float64]struct{}) (float64, bool) {
	found := false
	var lowest float64

	for t := range configured {
		if _, notified := alreadyNotified[t]; notified {
			continue
		}
		if currentPercent < t {
			continue
		}
		if !found || t < lowest {
			lowest = t
			found = true
		}
	}

	return lowest, found
}
