package match

// Similarity returns a normalized indel similarity in [0,1] between two
// strings: 1 - distance/(len(a)+len(b)) where the distance counts
// insertions and deletions only. Identical strings score 1.0, fully
// disjoint strings 0.0. The computation is branch-deterministic: the
// same inputs produce the same bits on every call.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	ra := []rune(a)
	rb := []rune(b)
	total := len(ra) + len(rb)

	dist := indelDistance(ra, rb)
	return 1.0 - float64(dist)/float64(total)
}

// indelDistance is the edit distance with insertions and deletions at
// cost 1 and no substitutions, computed with a two-row DP.
func indelDistance(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = 1 + min(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
