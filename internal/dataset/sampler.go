package dataset

import (
	"math"
	"sort"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// Allocation records how the sample budget was split across tasks.
type Allocation struct {
	Target    map[domain.TaskType]int `json:"target"`
	Realized  map[domain.TaskType]int `json:"realized"`
	Available map[domain.TaskType]int `json:"available"`
	Total     int                     `json:"total"`
}

// allocate apportions total samples across tasks by weight using the
// largest-remainder method, then caps each task at its candidate supply and
// hands the shortfall to tasks with spare candidates. With ample supply the
// realized counts match the weights to within one sample.
func allocate(weights map[domain.TaskType]float64, available map[domain.TaskType]int, total int) *Allocation {
	supply := 0
	for _, n := range available {
		supply += n
	}
	if total <= 0 || total > supply {
		total = supply
	}

	alloc := &Allocation{
		Target:    make(map[domain.TaskType]int, len(domain.AllTasks)),
		Realized:  make(map[domain.TaskType]int, len(domain.AllTasks)),
		Available: available,
	}

	// Integer quotas plus remainder slots by largest fractional part.
	type share struct {
		task domain.TaskType
		frac float64
	}
	assigned := 0
	shares := make([]share, 0, len(domain.AllTasks))
	for _, task := range domain.AllTasks {
		quota := weights[task] * float64(total)
		base := int(math.Floor(quota))
		alloc.Target[task] = base
		assigned += base
		shares = append(shares, share{task, quota - float64(base)})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].frac > shares[j].frac })
	for i := 0; assigned < total && i < len(shares); i++ {
		alloc.Target[shares[i].task]++
		assigned++
	}

	// Cap at supply; collect the shortfall.
	shortfall := 0
	for _, task := range domain.AllTasks {
		if alloc.Target[task] > available[task] {
			shortfall += alloc.Target[task] - available[task]
			alloc.Target[task] = available[task]
		}
	}

	// Give the shortfall to tasks with spare candidates, heaviest weight
	// first, one sample per pass to keep the mix close to the weights.
	for shortfall > 0 {
		moved := false
		for _, task := range tasksByWeight(weights) {
			if shortfall == 0 {
				break
			}
			if alloc.Target[task] < available[task] {
				alloc.Target[task]++
				shortfall--
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	return alloc
}

func tasksByWeight(weights map[domain.TaskType]float64) []domain.TaskType {
	tasks := make([]domain.TaskType, len(domain.AllTasks))
	copy(tasks, domain.AllTasks)
	sort.SliceStable(tasks, func(i, j int) bool { return weights[tasks[i]] > weights[tasks[j]] })
	return tasks
}
