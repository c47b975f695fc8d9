package tuning

import "sync"

// workerPool runs jobs on a fixed set of goroutines. Each job learns the
// index of the worker running it so it can use state owned by that worker.
type workerPool struct {
	workers  int
	jobQueue chan func(worker int)
	wg       sync.WaitGroup
	once     sync.Once
}

// newWorkerPool expects workers to be positive.
func newWorkerPool(workers int) *workerPool {
	return &workerPool{
		workers:  workers,
		jobQueue: make(chan func(worker int), workers*2),
	}
}

func (wp *workerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker(i)
		}
	})
}

func (wp *workerPool) worker(id int) {
	for job := range wp.jobQueue {
		job(id)
		wp.wg.Done()
	}
}

func (wp *workerPool) Submit(job func(worker int)) {
	wp.wg.Add(1)
	wp.jobQueue <- job
}

// Wait blocks until every submitted job has finished.
func (wp *workerPool) Wait() {
	wp.wg.Wait()
}

func (wp *workerPool) Close() {
	close(wp.jobQueue)
}
