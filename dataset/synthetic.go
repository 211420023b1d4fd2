package dataset

import (
	"math"
	"math/rand"

	"gorgonia.org/vecf32"
)

// Synthetic makes n signals of the given length, each a few random sinusoids plus noise.
// Signals from the same seed are identical.
func Synthetic(n, length int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	retVal := make([][]float32, n)
	tone := make([]float32, length)
	for i := range retVal {
		s := make([]float32, length)
		for k := 0; k < 3; k++ {
			freq := 0.005 + 0.1*r.Float64()
			phase := 2 * math.Pi * r.Float64()
			for j := range tone {
				tone[j] = float32(math.Sin(2*math.Pi*freq*float64(j) + phase))
			}
			vecf32.Scale(tone, float32(0.2+0.8*r.Float64()))
			vecf32.Add(s, tone)
		}
		for j := range s {
			s[j] += float32(0.05 * r.NormFloat64())
		}
		Normalize(s)
		retVal[i] = s
	}
	return retVal
}
