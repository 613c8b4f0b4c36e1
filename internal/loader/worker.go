package loader

import (
	"sync"
	"time"

	"github.com/cytoslide/slidecore/internal/workqueue"
)

func pauseWorker() { time.Sleep(time.Millisecond) }

// WorkerPool runs numWorkers goroutines that continuously pump a Cache's
// lanes, so decode jobs submitted by RequestTile actually make progress
// in the background instead of only draining when a caller cooperatively
// pumps from the main thread. Grounded on tile/generator.go's
// WaitGroup-joined worker goroutines, adapted to pump our own
// workqueue.Lanes instead of ranging over a channel directly.
type WorkerPool struct {
	lanes *workqueue.Lanes
	stop  chan struct{}
	wg    sync.WaitGroup
	depth *workqueue.CallDepth
}

// StartWorkerPool launches numWorkers goroutines pumping lanes until
// Stop is called. logicalThread indices 0..numWorkers-1 are assigned one
// per goroutine, matching Task's logicalThread contract.
func StartWorkerPool(lanes *workqueue.Lanes, numWorkers int) *WorkerPool {
	p := &WorkerPool{
		lanes: lanes,
		stop:  make(chan struct{}),
		depth: workqueue.NewCallDepth(numWorkers),
	}
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *WorkerPool) run(logicalThread int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		p.depth.Enter(logicalThread)
		didWork := p.lanes.Pump(logicalThread)
		p.depth.Leave(logicalThread)
		if !didWork {
			select {
			case <-p.stop:
				return
			default:
			}
			// Nothing ready; yield briefly rather than busy-spin. A
			// dedicated semaphore-backed wakeup would avoid the sleep,
			// but with two bounded lanes and a handful of workers this
			// matches the teacher's own reliance on a simple poll loop
			// elsewhere (workqueue.Drain) rather than introducing a
			// second synchronization primitive for the same purpose.
			pauseWorker()
		}
	}
}

// Stop signals every worker goroutine to exit and waits for them to
// finish their current task.
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}
