package router

import "sync"

// lanes runs jobs in FIFO order per key, one goroutine per busy key.
type lanes struct {
	mu     sync.Mutex
	queues map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	jobs    []func()
	running bool
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string]*lane)}
}

func threadLane(threadID string) string   { return "thread:" + threadID }
func primaryLane(channelID string) string { return "primary:" + channelID }

// submit queues job on key. It returns false after close.
func (ls *lanes) submit(key string, job func()) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return false
	}
	l, ok := ls.queues[key]
	if !ok {
		l = &lane{}
		ls.queues[key] = l
	}
	l.jobs = append(l.jobs, job)
	if !l.running {
		l.running = true
		ls.wg.Add(1)
		go ls.drain(key, l)
	}
	return true
}

func (ls *lanes) drain(key string, l *lane) {
	defer ls.wg.Done()
	for {
		ls.mu.Lock()
		if len(l.jobs) == 0 {
			l.running = false
			delete(ls.queues, key)
			ls.mu.Unlock()
			return
		}
		job := l.jobs[0]
		l.jobs = l.jobs[1:]
		ls.mu.Unlock()
		job()
	}
}

// close rejects new jobs and waits for queued ones.
func (ls *lanes) close() {
	ls.mu.Lock()
	ls.closed = true
	ls.mu.Unlock()
	ls.wg.Wait()
}
