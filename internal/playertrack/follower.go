package playertrack

import (
	"bufio"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultFollowInterval is how often the log file is checked for new lines.
const DefaultFollowInterval = time.Second

// Follower tails the game server's log file and feeds lines to the tracker.
// It starts at the end of the file so historical sessions are not replayed,
// and reopens the file when the server rotates or truncates it.
type Follower struct {
	path     string
	tracker  *Tracker
	interval time.Duration

	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial string

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewFollower creates a Follower over the given log path.
func NewFollower(path string, tracker *Tracker, interval time.Duration) *Follower {
	if interval <= 0 {
		interval = DefaultFollowInterval
	}
	return &Follower{
		path:      path,
		tracker:   tracker,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins tailing in a background goroutine.
// It is safe to call Start multiple times; subsequent calls are no-ops.
func (f *Follower) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.stoppedCh = make(chan struct{})
	f.mu.Unlock()

	go f.run()
}

// Stop stops tailing. It blocks until the goroutine has exited.
func (f *Follower) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	stoppedCh := f.stoppedCh
	f.mu.Unlock()

	<-stoppedCh
}

func (f *Follower) run() {
	defer close(f.stoppedCh)
	defer f.closeFile()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.readAvailable()
		case <-f.stopCh:
			return
		}
	}
}

// readAvailable drains all complete lines currently in the file.
func (f *Follower) readAvailable() {
	if f.file == nil {
		if !f.open(true) {
			return
		}
	}

	// Detect truncation or rotation: the file shrank below our offset, or
	// the path now points at a different inode sized smaller.
	if info, err := os.Stat(f.path); err != nil {
		f.closeFile()
		return
	} else if info.Size() < f.offset {
		log.Printf("[LogFollower] %s truncated, reopening", f.path)
		f.closeFile()
		if !f.open(false) {
			return
		}
	}

	for {
		line, err := f.reader.ReadString('\n')
		if line != "" {
			f.offset += int64(len(line))
		}
		if err != nil {
			if err == io.EOF {
				// Hold the incomplete tail until its newline arrives.
				f.partial += line
			} else {
				log.Printf("[LogFollower] Read error on %s: %v", f.path, err)
				f.closeFile()
			}
			return
		}
		f.tracker.ProcessLine(f.partial + line)
		f.partial = ""
	}
}

// open opens the log file, seeking to the end when seekEnd is set.
func (f *Follower) open(seekEnd bool) bool {
	file, err := os.Open(f.path)
	if err != nil {
		// The log may not exist until the server first starts; keep trying.
		return false
	}

	offset := int64(0)
	if seekEnd {
		offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return false
		}
	}

	f.file = file
	f.reader = bufio.NewReader(file)
	f.offset = offset
	return true
}

func (f *Follower) closeFile() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
		f.reader = nil
		f.offset = 0
		f.partial = ""
	}
}
