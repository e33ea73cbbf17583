package boot

// Install phases reported in Progress.
const (
	PhaseErasing   = "erasing"
	PhaseCopying   = "copying"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
	PhaseFailed    = "failed"
	PhaseLaunching = "launching"
)

// Progress contains information about the install progress.
type Progress struct {
	Phase   string
	Name    string
	Percent int
	Written uint32
	Total   uint32
}

// ProgressCallback is called during install to report progress.
// Implementations should return quickly.
type ProgressCallback func(Progress)

func percent(written, total uint32) int {
	if total == 0 {
		return 100
	}
	return int(uint64(written) * 100 / uint64(total))
}
