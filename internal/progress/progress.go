// Package progress provides a unified interface for progress reporting
// across CLI (progress bars) and headless (event bus) surfaces.
package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/diodelink/diodelink/internal/events"
)

// Reporter receives upload progress as percentages in [0, 100].
type Reporter interface {
	Start(description string)
	Update(percent int)
	Finish()
	Error(err error)
}

// CLIProgress renders a terminal progress bar on stderr, leaving stdout free
// for command output.
type CLIProgress struct {
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{}
}

// Start initializes the progress bar.
func (p *CLIProgress) Start(description string) {
	p.bar = progressbar.NewOptions64(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to the given percentage.
func (p *CLIProgress) Update(percent int) {
	if p.bar != nil {
		_ = p.bar.Set64(int64(percent))
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}
}

// BusProgress forwards progress to the event bus for headless subscribers.
type BusProgress struct {
	bus      *events.Bus
	uploadID string
	name     string
}

// NewBusProgress creates an event bus progress reporter.
func NewBusProgress(bus *events.Bus, uploadID, name string) *BusProgress {
	return &BusProgress{bus: bus, uploadID: uploadID, name: name}
}

func (p *BusProgress) Start(description string) {}

func (p *BusProgress) Update(percent int) {
	p.bus.PublishUpload(events.EventUploadProgress, p.uploadID, p.name, 0, "", percent, nil)
}

func (p *BusProgress) Finish() {
	p.bus.PublishUpload(events.EventUploadProgress, p.uploadID, p.name, 0, "", 100, nil)
}

func (p *BusProgress) Error(err error) {
	if err != nil {
		p.bus.PublishUpload(events.EventUploadFailed, p.uploadID, p.name, 0, "", 0, err)
	}
}

// NoOpProgress is a reporter that does nothing, for silent operations.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(description string) {}
func (p *NoOpProgress) Update(percent int)       {}
func (p *NoOpProgress) Finish()                  {}
func (p *NoOpProgress) Error(err error)          {}
