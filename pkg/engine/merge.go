package engine

// UnionMerge returns a new spec holding every channel and package spec of a, followed by those of b that a lacks.
// Duplicates are dropped and first-seen order is kept, so serialization stays deterministic.
func UnionMerge(a, b EnvironmentSpec) EnvironmentSpec {
	return EnvironmentSpec{
		Channels: unionStrings(a.Channels, b.Channels),
		PkgSpecs: unionStrings(a.PkgSpecs, b.PkgSpecs),
	}
}

// IsSatisfiedBy reports whether actual contains every channel and package spec of desired.
// Containment is one-directional: actual may carry extra entries.
func IsSatisfiedBy(desired, actual EnvironmentSpec) bool {
	return containsAll(actual.Channels, desired.Channels) && containsAll(actual.PkgSpecs, desired.PkgSpecs)
}

// DiffNew returns the elements of next that are absent from old, in next's order.
// An empty result means merging next into old changes nothing.
func DiffNew(old, next []string) []string {
	seen := make(map[string]struct{}, len(old))
	for _, s := range old {
		seen[s] = struct{}{}
	}
	var diff []string
	for _, s := range next {
		if _, ok := seen[s]; ok {
			continue
		}
		diff = append(diff, s)
	}
	return diff
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func containsAll(haystack, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(haystack))
	for _, s := range haystack {
		set[s] = struct{}{}
	}
	for _, s := range needles {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func dedupe(in []string) []string {
	return unionStrings(in, nil)
}
