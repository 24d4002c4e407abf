package preload

import "github.com/yomu-app/yomu/internal/model"

// predictPages computes one tier's candidate page set around current.
// The predicted direction gets the full tier range; the opposite direction
// gets half of it, rounded up but never below one page. Pages are clamped to
// [0, totalPages-1], exclude the current page, and are ordered nearest
// first in the primary direction, then nearest first in the secondary, so
// FIFO dispatch within the tier prefers closer pages.
func predictPages(current, tierRange, totalPages int, dir model.Direction) []int {
	if tierRange < 1 || totalPages <= 0 || current < 0 || current >= totalPages {
		return nil
	}

	secondary := (tierRange + 1) / 2
	if secondary < 1 {
		secondary = 1
	}

	sign := 1
	if dir == model.DirectionBackward {
		sign = -1
	}

	pages := make([]int, 0, tierRange+secondary)
	seen := map[int]bool{current: true}
	add := func(p int) {
		if p >= 0 && p < totalPages && !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}

	for offset := 1; offset <= tierRange; offset++ {
		add(current + sign*offset)
	}
	for offset := 1; offset <= secondary; offset++ {
		add(current - sign*offset)
	}
	return pages
}
