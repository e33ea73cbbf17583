package boot

import "time"

// Settings holds the installer settings.
type Settings struct {
	// ProgressCallback is called after each installed chunk (optional).
	ProgressCallback ProgressCallback
	// StateCallback is called on each state transition (optional).
	StateCallback func(State)
	// ChunkSize is the number of bytes copied per program memory write.
	ChunkSize int
	// PollInterval bounds each inbox receive while waiting.
	PollInterval time.Duration
	// AppStart is the lowest address an application may be installed at.
	AppStart uint32
	// MaxAppSize is the size of the application region.
	MaxAppSize uint32
}

func defaultSettings() Settings {
	return Settings{
		ChunkSize:    1024,
		PollInterval: 100 * time.Millisecond,
		AppStart:     0x08004000,
		MaxAppSize:   0x3c000,
	}
}

// Option is a functional option for configuring the Installer.
type Option func(*Settings)

// WithProgressCallback sets a callback to track install progress.
//
// Example:
//
//	inst := boot.NewInstaller(conf, catalog, program, jumper, inbox,
//	    boot.WithProgressCallback(func(p boot.Progress) {
//	        fmt.Printf("%s %d%%\n", p.Phase, p.Percent)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(s *Settings) {
		s.ProgressCallback = callback
	}
}

// WithStateCallback sets a callback observing state transitions.
func WithStateCallback(callback func(State)) Option {
	return func(s *Settings) {
		s.StateCallback = callback
	}
}

// WithChunkSize sets the copy chunk size. Default is 1024 bytes.
func WithChunkSize(size int) Option {
	return func(s *Settings) {
		if size > 0 {
			s.ChunkSize = size
		}
	}
}

// WithPollInterval sets the per-iteration inbox timeout. Default is 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(s *Settings) {
		if d > 0 {
			s.PollInterval = d
		}
	}
}

// WithAppRegion sets the program memory region applications are installed to.
func WithAppRegion(start, maxSize uint32) Option {
	return func(s *Settings) {
		s.AppStart, s.MaxAppSize = start, maxSize
	}
}
