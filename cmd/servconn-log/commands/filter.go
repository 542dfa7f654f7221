package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/threema-ch/servconn/pkg/log"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output    string
	ConnID    string
	Identity  string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
	Protocol  string
}

func (opts FilterOptions) filter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		Identity:     opts.Identity,
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Layer != "" {
		l, err := ParseLayerFlag(opts.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if opts.Direction != "" {
		d, err := ParseDirectionFlag(opts.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if opts.Protocol != "" {
		p, err := ParseProtocolFlag(opts.Protocol)
		if err != nil {
			return filter, err
		}
		filter.Protocol = &p
	}
	return filter, nil
}

// RunFilter filters the log file and writes matching events to a new file.
// It returns the number of events written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := opts.filter()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	// The output keeps the identity and client info of the source capture.
	h := reader.Header()
	logger, err := log.NewFileLogger(log.FileLoggerConfig{
		Path:       opts.Output,
		Identity:   h.Identity,
		ClientInfo: h.ClientInfo,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}

		logger.Log(event)
		count++
	}
	if err := logger.Close(); err != nil {
		return count, fmt.Errorf("failed to write output: %w", err)
	}
	return count, nil
}
