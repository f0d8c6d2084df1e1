package debug

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// tensorStats summarizes the values of a float tensor. NaNs are counted and
// excluded from the other statistics.
type tensorStats struct {
	Size     int
	Min, Max float64
	Mean     float64
	Variance float64
	Std      float64
	NaNs     int
}

func (st tensorStats) String() string {
	return fmt.Sprintf("size=%d min=%g max=%g mean=%g std=%g nans=%d",
		st.Size, st.Min, st.Max, st.Mean, st.Std, st.NaNs)
}

// summarize computes summary statistics for float32 and float64 tensors.
// Other dtypes report ok=false.
func summarize(t *tensors.Tensor) (st tensorStats, ok bool) {
	switch t.Shape().DType {
	case dtypes.Float32:
		tensors.ConstFlatData[float32](t, func(flat []float32) {
			st = statsFloat32(flat)
		})
		return st, true
	case dtypes.Float64:
		tensors.ConstFlatData[float64](t, func(flat []float64) {
			st = statsFloat64(flat)
		})
		return st, true
	}
	return st, false
}

func statsFloat32(flat []float32) tensorStats {
	st := tensorStats{Size: len(flat)}
	minV, maxV := math32.Inf(1), math32.Inf(-1)
	var sum, sumSquares float64
	count := 0
	for _, v := range flat {
		if math32.IsNaN(v) {
			st.NaNs++
			continue
		}
		minV = math32.Min(minV, v)
		maxV = math32.Max(maxV, v)
		sum += float64(v)
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return st
	}
	st.Min, st.Max = float64(minV), float64(maxV)
	st.Mean = sum / float64(count)
	st.Variance = sumSquares/float64(count) - st.Mean*st.Mean
	if st.Variance < 0 {
		st.Variance = 0
	}
	st.Std = math.Sqrt(st.Variance)
	return st
}

func statsFloat64(flat []float64) tensorStats {
	st := tensorStats{Size: len(flat)}
	minV, maxV := math.Inf(1), math.Inf(-1)
	var sum, sumSquares float64
	count := 0
	for _, v := range flat {
		if math.IsNaN(v) {
			st.NaNs++
			continue
		}
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
		sum += v
		sumSquares += v * v
		count++
	}
	if count == 0 {
		return st
	}
	st.Min, st.Max = minV, maxV
	st.Mean = sum / float64(count)
	st.Variance = sumSquares/float64(count) - st.Mean*st.Mean
	if st.Variance < 0 {
		st.Variance = 0
	}
	st.Std = math.Sqrt(st.Variance)
	return st
}
