package minimalloc

import (
	"math"
	"math/bits"
)

// align is the granularity every node size is rounded to. It is also the
// size of the smallest size class.
const align = 8

// numSizeClasses is the number of segregated free lists. Classes 0..3 are
// exact multiples of align (8,16,24,32 bytes). Classes 4..57 follow a
// geometric progression with ratio 2^(1/4). Class 58 is the unbounded
// overflow class.
const numSizeClasses = 59

// classSizes[i] is the nominal (upper-bound) size, in bytes, of class i.
// Class numSizeClasses-1 has no meaningful nominal size: it is the overflow
// class and is searched linearly.
var classSizes [numSizeClasses]uint32

func init() {
	// Sweep bits 1..64, compute size = floor(2^(bits/4) + epsilon) * align,
	// and file it under whichever class classIndexUpper resolves it to. Because
	// classIndexUpper is monotonic in size and bits increases monotonically,
	// later (larger) candidates simply overwrite earlier ones that land in
	// the same class, leaving each class's true upper bound in place.
	for b := 1; b <= 64; b++ {
		size := uint64(math.Pow(2.0, float64(b)/4.0)+0.001) * align
		idx := classIndexUpper(uint32(size))
		if idx < 0 || idx >= numSizeClasses {
			continue
		}
		classSizes[idx] = uint32(size)
	}
	// Classes 0..3 are pinned to exact multiples of align regardless of
	// what the geometric generator produced for them.
	for i := 0; i < 4; i++ {
		classSizes[i] = uint32((i + 1) * align)
	}
}

// classIndexUpper returns the smallest size class whose nominal size is >=
// size. size must already be a multiple of align.
func classIndexUpper(size uint32) int {
	units := uint64(size) / align
	if units <= 4 {
		return int(units) - 1
	}
	if units > (1 << 16) {
		return numSizeClasses - 1
	}
	// Raising to the 4th power turns the ratio-2^(1/4) geometric spacing
	// into a uniform log2 spacing, so a single floor(log2(.)) recovers the
	// class index.
	units *= units
	units *= units
	return log2Floor(units-1) - 5
}

// classIndexLower returns the largest size class whose nominal size is <=
// size.
func classIndexLower(size uint32) int {
	idx := classIndexUpper(size)
	for idx > 0 && classSizes[idx] > size {
		idx--
	}
	return idx
}

func log2Floor(n uint64) int {
	return bits.Len64(n) - 1
}

func roundUp8(size uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}
