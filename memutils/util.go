package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns an error wrapping PowerOfTwoError if number is not a positive power of two
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment. Alignment does not need to be a
// power of two. Alignments of 0 and 1 leave the value untouched.
func AlignUp(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}

	if alignment&(alignment-1) == 0 {
		return (value + int(alignment) - 1) & int(^(alignment - 1))
	}

	align := int(alignment)
	return (value + align - 1) / align * align
}

// AlignDown rounds value down to the nearest multiple of alignment.
func AlignDown(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}

	if alignment&(alignment-1) == 0 {
		return value & int(^(alignment - 1))
	}

	align := int(alignment)
	return value / align * align
}

func IsAligned(value int, alignment uint) bool {
	return AlignDown(value, alignment) == value
}
