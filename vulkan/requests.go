package vulkan

import (
	"github.com/vkngwrapper/arsenal/batchmem"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// RequestBuffer queues a request for the buffer's memory requirements. The buffer is bound when
// the returned entry is allocated.
func RequestBuffer(allocator *batchmem.Allocator, buffer core1_0.Buffer) (batchmem.Entry, error) {
	return allocator.Request(requestInfo(buffer.MemoryRequirements(), batchmem.KindBuffer, buffer))
}

// RequestImage queues a request for the image's memory requirements. tiling must be the tiling
// the image was created with.
func RequestImage(allocator *batchmem.Allocator, image core1_0.Image, tiling core1_0.ImageTiling) (batchmem.Entry, error) {
	kind := batchmem.KindImageOptimal
	if tiling == core1_0.ImageTilingLinear {
		kind = batchmem.KindImageLinear
	}

	return allocator.Request(requestInfo(image.MemoryRequirements(), kind, image))
}

func requestInfo(requirements *core1_0.MemoryRequirements, kind batchmem.Kind, resource any) batchmem.RequestInfo {
	return batchmem.RequestInfo{
		Size:           requirements.Size,
		Alignment:      requirements.Alignment,
		MemoryTypeBits: requirements.MemoryTypeBits,
		Kind:           kind,
		Resource:       resource,
	}
}
