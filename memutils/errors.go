package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// OverlapError is returned by block metadata when a range is committed on top of a live range
var OverlapError error = errors.New("range overlaps a live allocation")
