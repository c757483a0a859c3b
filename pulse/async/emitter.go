package async

import (
	"context"
	"time"
)

// EventType names a job change pushed to listeners.
type EventType string

const (
	EventProgress  EventType = "job_progress"
	EventAwaiting  EventType = "job_awaiting_confirmation"
	EventCompleted EventType = "job_completed"
	EventFailed    EventType = "job_failed"
)

// Event is the wire form of a job change.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	Mode       Mode      `json:"mode"`
	Status     JobStatus `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Progress   float64   `json:"progress_percent"`
	WaitingFor string    `json:"waiting_for,omitempty"`
	Error      *JobError `json:"error,omitempty"`
	Output     string    `json:"output,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

// EventFromJob converts a job snapshot into an event.
func EventFromJob(j *Job) Event {
	ev := Event{
		JobID:     j.ID,
		Mode:      j.Mode,
		Status:    j.Status,
		Stage:     j.StageName,
		Progress:  j.Progress,
		Timestamp: j.UpdatedAt.Unix(),
	}
	switch j.Status {
	case JobStatusAwaiting:
		ev.Type = EventAwaiting
		ev.WaitingFor = j.WaitingFor
	case JobStatusCompleted:
		ev.Type = EventCompleted
		ev.Output = j.Output
	case JobStatusFailed:
		ev.Type = EventFailed
		ev.Error = j.Error
	default:
		ev.Type = EventProgress
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	return ev
}

// Emit forwards registry updates as events until ctx ends. Progress
// events for one job are coalesced to at most one per interval; status
// changes always go out.
func Emit(ctx context.Context, reg *Registry, interval time.Duration, send func(Event)) {
	ch := reg.Subscribe()
	defer reg.Unsubscribe(ch)
	EmitFrom(ctx, ch, interval, send)
}

// EmitFrom is Emit over a channel the caller already subscribed, for
// callers that must not miss updates between subscribing and reading a
// snapshot.
func EmitFrom(ctx context.Context, ch <-chan *Job, interval time.Duration, send func(Event)) {
	lastSent := make(map[string]time.Time)
	lastStatus := make(map[string]JobStatus)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-ch:
			ev := EventFromJob(job)
			now := time.Now()
			if ev.Type == EventProgress && lastStatus[job.ID] == job.Status &&
				now.Sub(lastSent[job.ID]) < interval {
				continue
			}
			lastStatus[job.ID] = job.Status
			if job.Status.IsTerminal() {
				delete(lastSent, job.ID)
				delete(lastStatus, job.ID)
			} else {
				lastSent[job.ID] = now
			}
			send(ev)
		}
	}
}
