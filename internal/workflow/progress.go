package workflow

// Advisory progress bands per stage. Work inside a stage interpolates
// linearly between its floor and ceiling, so per-segment completions in
// arbitrary order still produce smooth, monotone UI progress.
const (
	progressCoverSubmitted = 10
	progressCoverReady     = 40
	progressVideoSubmitted = 50

	progressFramesFloor = 20
	progressFramesCeil  = 50
	progressVideosFloor = 50
	progressVideosCeil  = 90
	progressMerging     = 92
)

// interpolate maps done/total onto the [floor, ceil] band. A zero total
// pins progress to the floor.
func interpolate(floor, ceil, done, total int) int {
	if total <= 0 {
		return floor
	}
	if done > total {
		done = total
	}
	return floor + (ceil-floor)*done/total
}
