package memutils

// Validatable is anything DebugValidate can check: block metadata, memory blocks and the allocator
type Validatable interface {
	Validate() error
}
