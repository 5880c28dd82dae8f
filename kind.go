package batchmem

// Kind is the placement category of a resource. Linear resources (buffers and linearly-tiled images)
// may not share a placement-granularity page with optimally-tiled images.
type Kind uint32

const (
	kindFree Kind = iota
	KindBuffer
	KindImageLinear
	KindImageOptimal
)

var kindMapping = map[Kind]string{
	kindFree:         "Free",
	KindBuffer:       "Buffer",
	KindImageLinear:  "ImageLinear",
	KindImageOptimal: "ImageOptimal",
}

func (k Kind) String() string {
	str, ok := kindMapping[k]
	if !ok {
		return "unknown Kind"
	}

	return str
}

func (k Kind) valid() bool {
	return k == KindBuffer || k == KindImageLinear || k == KindImageOptimal
}

// linear reports whether the kind is packed in the first group of a batch
func (k Kind) linear() bool {
	return k == KindBuffer || k == KindImageLinear
}
