package async

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/reel/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Number of workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsPending   int     `json:"jobs_pending"`
	JobsRunning   int     `json:"jobs_running"`
	JobsAwaiting  int     `json:"jobs_awaiting"`
	JobsProcessed int     `json:"jobs_processed"` // Dispatches since Start
}

// memoryStats is swapped in tests.
var memoryStats = getMemoryStats

// getMemoryStats returns current memory usage in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends worker count based on available memory.
// Assumes each worker may hold an ffmpeg re-encode plus a decoded inline
// video, about 1.5GB.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 1.5 // GB per concurrent job
	const memoryBuffer = 2.0    // GB reserved for the system

	if availableGB < memoryBuffer {
		return 1 // Always allow at least 1 worker
	}

	usableMemory := availableGB - memoryBuffer
	recommended := int(usableMemory / memoryPerWorker)

	if recommended < 1 {
		return 1
	}
	if recommended > 16 {
		return 16 // Cap at reasonable maximum
	}
	return recommended
}

// capWorkers lowers requested to the memory-safe count. When memory
// cannot be read the request stands.
func capWorkers(requested int) int {
	_, available, err := memoryStats()
	if err != nil || available == 0 {
		return requested
	}
	safe := calculateSafeWorkerCount(float64(available) / 1024 / 1024 / 1024)
	if requested > safe {
		return safe
	}
	return requested
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := memoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	var pending, running, awaiting int
	for _, j := range wp.reg.List() {
		switch j.Status {
		case JobStatusPending:
			pending++
		case JobStatusRunning:
			running++
		case JobStatusAwaiting:
			awaiting++
		}
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	processed := wp.jobsProcessed
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsPending:   pending,
		JobsRunning:   running,
		JobsAwaiting:  awaiting,
		JobsProcessed: processed,
	}
}
