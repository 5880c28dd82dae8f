package metadata

// AllocationStrategy exposes several options for choosing the location of a new memory allocation.
// If none is chosen, the lowest suitable offset is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest free range that can hold the allocation, to
	// minimize fragmentation, at the cost of scanning every free range
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime stops at the first free range that can hold the allocation
	AllocationStrategyMinTime
)
