package util

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

// RunParallel submits every task to the pool and waits for all of them to
// finish. A nil pool runs the tasks inline.
func RunParallel(pool *ants.Pool, tasks ...func()) {
	if pool == nil || len(tasks) <= 1 {
		for _, task := range tasks {
			task()
		}
		return
	}
	var wg sync.WaitGroup
	for _, task := range tasks {
		task := task
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			task()
		})
		if err != nil {
			// Pool rejected the task (released or overloaded), fall back to
			// running it on the caller.
			task()
			wg.Done()
		}
	}
	wg.Wait()
}
