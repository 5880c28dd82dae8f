package main

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	"github.com/vkngwrapper/arsenal/batchmem/hostmem"
	"gopkg.in/yaml.v2"
)

// Workload is a simulated device plus the sequence of calls to replay against it
type Workload struct {
	Granularity int          `yaml:"granularity"`
	MemoryTypes []MemoryType `yaml:"memoryTypes"`
	MemoryHeaps []MemoryHeap `yaml:"memoryHeaps"`
	Steps       []Step       `yaml:"steps"`
}

type MemoryType struct {
	Flags []string `yaml:"flags"`
	Heap  int      `yaml:"heap"`
}

type MemoryHeap struct {
	Size        int  `yaml:"size"`
	DeviceLocal bool `yaml:"deviceLocal"`
}

// Step holds exactly one action. Requests are named so later steps can refer to them.
type Step struct {
	Request     *Request `yaml:"request"`
	Cancel      string   `yaml:"cancel"`
	AllocateOne string   `yaml:"allocateOne"`
	Free        string   `yaml:"free"`
}

type Request struct {
	Name      string `yaml:"name"`
	Size      int    `yaml:"size"`
	Alignment int    `yaml:"alignment"`
	// Types lists the memory type indices the resource accepts
	Types []int  `yaml:"types"`
	Kind  string `yaml:"kind"`
}

var propertyFlagNames = map[string]backend.MemoryPropertyFlags{
	"devicelocal":     backend.MemoryPropertyDeviceLocal,
	"hostvisible":     backend.MemoryPropertyHostVisible,
	"hostcoherent":    backend.MemoryPropertyHostCoherent,
	"hostcached":      backend.MemoryPropertyHostCached,
	"lazilyallocated": backend.MemoryPropertyLazilyAllocated,
}

var kindNames = map[string]batchmem.Kind{
	"buffer":       batchmem.KindBuffer,
	"imagelinear":  batchmem.KindImageLinear,
	"imageoptimal": batchmem.KindImageOptimal,
}

func normalizeName(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(name))
}

func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading workload file %s", path)
	}

	return ParseWorkload(data)
}

func ParseWorkload(data []byte) (*Workload, error) {
	var workload Workload
	if err := yaml.UnmarshalStrict(data, &workload); err != nil {
		return nil, errors.Wrap(err, "unmarshaling workload")
	}

	if err := workload.Validate(); err != nil {
		return nil, err
	}

	return &workload, nil
}

func (w *Workload) Validate() error {
	names := make(map[string]struct{})

	for index, step := range w.Steps {
		actions := 0
		if step.Request != nil {
			actions++
		}
		for _, name := range []string{step.Cancel, step.AllocateOne, step.Free} {
			if name == "" {
				continue
			}
			actions++
			if _, ok := names[name]; !ok {
				return errors.Newf("step %d refers to request %q before it is made", index, name)
			}
		}
		if actions != 1 {
			return errors.Newf("step %d must contain exactly one action, found %d", index, actions)
		}

		if step.Request == nil {
			continue
		}
		if step.Request.Name == "" {
			return errors.Newf("step %d: request has no name", index)
		}
		if _, ok := names[step.Request.Name]; ok {
			return errors.Newf("step %d: request %q is already defined", index, step.Request.Name)
		}
		if _, err := step.Request.kind(); err != nil {
			return errors.Wrapf(err, "step %d", index)
		}
		names[step.Request.Name] = struct{}{}
	}

	return nil
}

func (r *Request) kind() (batchmem.Kind, error) {
	kind, ok := kindNames[normalizeName(r.Kind)]
	if !ok {
		return 0, errors.Newf("request %q has unknown kind %q", r.Name, r.Kind)
	}
	return kind, nil
}

func (r *Request) info() (batchmem.RequestInfo, error) {
	kind, err := r.kind()
	if err != nil {
		return batchmem.RequestInfo{}, err
	}

	var typeBits uint32
	for _, typeIndex := range r.Types {
		if typeIndex < 0 || typeIndex >= 32 {
			return batchmem.RequestInfo{}, errors.Newf("request %q names memory type %d", r.Name, typeIndex)
		}
		typeBits |= 1 << typeIndex
	}

	return batchmem.RequestInfo{
		Size:           r.Size,
		Alignment:      r.Alignment,
		MemoryTypeBits: typeBits,
		Kind:           kind,
		Resource:       r.Name,
	}, nil
}

// HostOptions describes the workload's simulated device to the host backend
func (w *Workload) HostOptions() (hostmem.Options, error) {
	options := hostmem.Options{
		Granularity: w.Granularity,
	}

	for typeIndex, memoryType := range w.MemoryTypes {
		var flags backend.MemoryPropertyFlags
		for _, name := range memoryType.Flags {
			flag, ok := propertyFlagNames[normalizeName(name)]
			if !ok {
				return hostmem.Options{}, errors.Newf("memory type %d has unknown flag %q", typeIndex, name)
			}
			flags |= flag
		}

		options.MemoryTypes = append(options.MemoryTypes, backend.MemoryType{
			PropertyFlags: flags,
			HeapIndex:     memoryType.Heap,
		})
	}

	for _, heap := range w.MemoryHeaps {
		options.MemoryHeaps = append(options.MemoryHeaps, backend.MemoryHeap{
			Size:        heap.Size,
			DeviceLocal: heap.DeviceLocal,
		})
	}

	return options, nil
}
