package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/batchmem"
	"github.com/vkngwrapper/arsenal/batchmem/hostmem"
)

type simulation struct {
	logger    *slog.Logger
	allocator *batchmem.Allocator
	entries   map[string]batchmem.Entry
	// order requests were made in, for stable output
	names []string
}

// Simulate replays the workload against a host backend, flushes every remaining request and writes
// a JSON report of where each request landed plus the allocator statistics.
func Simulate(logger *slog.Logger, workload *Workload, config *Config, out io.Writer, detailed bool) (err error) {
	options, err := workload.HostOptions()
	if err != nil {
		return err
	}

	hostBackend, err := hostmem.New(logger, options)
	if err != nil {
		return err
	}

	allocator, err := batchmem.New(logger, hostBackend, config.CreateOptions())
	if err != nil {
		return err
	}

	sim := &simulation{
		logger:    logger,
		allocator: allocator,
		entries:   make(map[string]batchmem.Entry),
	}
	defer func() {
		err = errors.CombineErrors(err, sim.close())
	}()

	for index, step := range workload.Steps {
		if err := sim.apply(step); err != nil {
			return errors.Wrapf(err, "step %d", index)
		}
	}

	if err := allocator.AllocateAll(); err != nil {
		return errors.Wrap(err, "flushing pending requests")
	}

	report, err := sim.report(detailed)
	if err != nil {
		return err
	}

	if _, err := out.Write(report); err != nil {
		return errors.Wrap(err, "writing report")
	}
	_, err = io.WriteString(out, "\n")
	return err
}

func (s *simulation) apply(step Step) error {
	switch {
	case step.Request != nil:
		info, err := step.Request.info()
		if err != nil {
			return err
		}

		entry, err := s.allocator.Request(info)
		if err != nil {
			return err
		}
		s.entries[step.Request.Name] = entry
		s.names = append(s.names, step.Request.Name)
		return nil

	case step.Cancel != "":
		return s.allocator.Cancel(s.entries[step.Cancel])

	case step.AllocateOne != "":
		placed, err := s.allocator.AllocateOne(s.entries[step.AllocateOne])
		if err != nil {
			return err
		}
		s.logger.LogAttrs(context.Background(), slog.LevelInfo, "batchsim::AllocateOne",
			slog.String("request", step.AllocateOne),
			slog.Bool("placed", placed),
		)
		return nil

	default:
		return s.entries[step.Free].Free()
	}
}

func (s *simulation) close() error {
	var err error
	for _, name := range s.names {
		entry := s.entries[name]
		if entry.IsValid() {
			err = errors.CombineErrors(err, entry.Free())
		}
	}

	return errors.CombineErrors(err, s.allocator.Destroy())
}

func (s *simulation) report(detailed bool) ([]byte, error) {
	stats, err := s.allocator.BuildStatsString(detailed)
	if err != nil {
		return nil, err
	}

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	entriesObj := rootObj.Name("Entries").Object()
	for _, name := range s.names {
		entry := s.entries[name]
		entryObj := entriesObj.Name(name).Object()

		switch {
		case entry.IsBound():
			_, offset, _ := entry.BlockAndOffset()
			entryObj.Name("State").String("Bound")
			entryObj.Name("MemoryType").Int(entry.Block().MemoryTypeIndex())
			entryObj.Name("Block").Int(entry.Block().ID())
			entryObj.Name("Offset").Int(offset)
			entryObj.Name("Size").Int(entry.Size())
		case entry.IsPending():
			entryObj.Name("State").String("Pending")
		default:
			entryObj.Name("State").String("Released")
		}

		entryObj.End()
	}
	entriesObj.End()

	rootObj.Name("Statistics").Raw([]byte(stats))
	rootObj.End()

	return writer.Bytes(), nil
}
