package backend

import "github.com/vkngwrapper/core/v2/common"

// MemoryPropertyFlags mirrors the memory property bits a graphics API reports for a memory type
type MemoryPropertyFlags int32

var memoryPropertyFlagsMapping = common.NewFlagStringMapping[MemoryPropertyFlags]()

func (f MemoryPropertyFlags) Register(str string) {
	memoryPropertyFlagsMapping.Register(f, str)
}
func (f MemoryPropertyFlags) String() string {
	return memoryPropertyFlagsMapping.FlagsToString(f)
}

const (
	MemoryPropertyDeviceLocal MemoryPropertyFlags = 1 << iota
	// MemoryPropertyHostVisible indicates blocks of this type can be mapped
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
	MemoryPropertyHostCached
	MemoryPropertyLazilyAllocated
)

func init() {
	MemoryPropertyDeviceLocal.Register("DeviceLocal")
	MemoryPropertyHostVisible.Register("HostVisible")
	MemoryPropertyHostCoherent.Register("HostCoherent")
	MemoryPropertyHostCached.Register("HostCached")
	MemoryPropertyLazilyAllocated.Register("LazilyAllocated")
}

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     int
}

func (t MemoryType) HostVisible() bool {
	return t.PropertyFlags&MemoryPropertyHostVisible != 0
}

func (t MemoryType) DeviceLocal() bool {
	return t.PropertyFlags&MemoryPropertyDeviceLocal != 0
}

type MemoryHeap struct {
	Size        int
	DeviceLocal bool
}
