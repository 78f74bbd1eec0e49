package utils

// ContainsValue reports whether any value in m equals v.
func ContainsValue[K comparable, V comparable](m map[K]V, v V) bool {
	for _, mv := range m {
		if mv == v {
			return true
		}
	}
	return false
}

// SetsAreEqual compares two slices as multisets.
func SetsAreEqual[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}

	counts := make(map[T]int)

	for _, s := range a {
		counts[s]++
	}

	for _, s := range b {
		counts[s]--
		if counts[s] < 0 {
			return false
		}
	}

	return true
}
