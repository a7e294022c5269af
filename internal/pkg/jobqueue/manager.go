package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Manager owns the queue workers and the background tickers that keep the
// delayed set moving. It is built by the process entry point.
type Manager struct {
	queue         *Queue
	promoteTicker *time.Ticker
	statsTicker   *time.Ticker
	statsInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager wraps a queue.
func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:         queue,
		statsInterval: 5 * time.Minute,
		stopCh:        make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.promoteTicker = time.NewTicker(m.queue.cfg.PromoteInterval)
	m.wg.Add(1)
	go m.promoteWorker()

	m.statsTicker = time.NewTicker(m.statsInterval)
	m.wg.Add(1)
	go m.statsWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.promoteTicker != nil {
		m.promoteTicker.Stop()
	}
	if m.statsTicker != nil {
		m.statsTicker.Stop()
	}

	close(m.stopCh)
	m.wg.Wait()

	m.queue.Stop()

	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// promoteWorker moves due retries back into the pending set
func (m *Manager) promoteWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.promoteTicker.C:
			if _, err := m.queue.PromoteDue(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Failed to promote delayed jobs: %v", err)
			}
		}
	}
}

// statsWorker periodically logs queue depth
func (m *Manager) statsWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.statsTicker.C:
			ctx := context.Background()
			pending, _ := m.queue.GetQueueSize(ctx)
			processing, _ := m.queue.GetProcessingSize(ctx)
			delayed, _ := m.queue.GetDelayedSize(ctx)
			log.Infof("[JobQueue Manager] pending=%d processing=%d delayed=%d", pending, processing, delayed)
		}
	}
}
