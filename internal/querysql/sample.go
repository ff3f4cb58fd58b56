package querysql

import "math/rand/v2"

// sampleStream is the second PCG seed word, fixed so a seed alone
// determines the sample.
const sampleStream = 0x9e3779b97f4a7c15

// SampleOffsets draws min(count, total) distinct row offsets in [0, total)
// from a PCG generator seeded with seed. The same inputs always produce the
// same offsets, in the same order.
func SampleOffsets(seed int64, count, total int) []int {
	n := min(count, total)
	if n <= 0 {
		return []int{}
	}
	r := rand.New(rand.NewPCG(uint64(seed), sampleStream))

	// Partial Fisher-Yates over a virtual [0, total) array.
	swapped := make(map[int]int, n)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		j := i + r.IntN(total-i)
		out[i] = at(j)
		swapped[j] = at(i)
	}
	return out
}
