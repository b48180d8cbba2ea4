package fence

// workQueue runs fn on its own goroutine each time it is queued. Queueing
// while a run is pending coalesces into that run.
type workQueue struct {
	kick  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	fn    func()
	drain func()
}

func newWorkQueue(fn, drain func()) *workQueue {
	wq := &workQueue{
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		fn:    fn,
		drain: drain,
	}
	go wq.run()
	return wq
}

func (wq *workQueue) run() {
	defer close(wq.done)
	for {
		select {
		case <-wq.kick:
			wq.fn()
		case <-wq.stop:
			select {
			case <-wq.kick:
				wq.fn()
			default:
			}
			if wq.drain != nil {
				wq.drain()
			}
			return
		}
	}
}

// Queue never blocks. It is safe from completion callbacks.
func (wq *workQueue) Queue() {
	select {
	case wq.kick <- struct{}{}:
	default:
	}
}

// Destroy runs any pending work and the drain hook, then stops the goroutine.
func (wq *workQueue) Destroy() {
	close(wq.stop)
	<-wq.done
}
