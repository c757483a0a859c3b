package async

import "encoding/json"

// Phase is a tagged view of a job's status. Each variant carries only the
// fields meaningful in that status, so a caller cannot read a gate off a
// failed job or an error off an awaiting one.
type Phase interface {
	Status() JobStatus
	isPhase()
}

// Pending has not been picked up by a worker yet.
type Pending struct{}

// Running is executing Stage.
type Running struct {
	Stage    string
	Progress float64
}

// Awaiting is parked at Gate; Artifact is the value up for confirmation.
type Awaiting struct {
	Gate     string
	Artifact json.RawMessage
}

// Completed finished with Output.
type Completed struct {
	Output string
}

// Failed ended with Err.
type Failed struct {
	Err JobError
}

func (Pending) Status() JobStatus   { return JobStatusPending }
func (Running) Status() JobStatus   { return JobStatusRunning }
func (Awaiting) Status() JobStatus  { return JobStatusAwaiting }
func (Completed) Status() JobStatus { return JobStatusCompleted }
func (Failed) Status() JobStatus    { return JobStatusFailed }

func (Pending) isPhase()   {}
func (Running) isPhase()   {}
func (Awaiting) isPhase()  {}
func (Completed) isPhase() {}
func (Failed) isPhase()    {}

// PhaseOf derives the phase of a job snapshot.
func PhaseOf(j *Job) Phase {
	switch j.Status {
	case JobStatusRunning:
		return Running{Stage: j.StageName, Progress: j.Progress}
	case JobStatusAwaiting:
		p := Awaiting{Gate: j.WaitingFor}
		if a, ok := j.Artifacts[j.WaitingFor]; ok {
			p.Artifact = a.Value
		}
		return p
	case JobStatusCompleted:
		return Completed{Output: j.Output}
	case JobStatusFailed:
		if j.Error != nil {
			return Failed{Err: *j.Error}
		}
		return Failed{Err: JobError{Kind: ErrorKindStageFailed, Message: "unknown error"}}
	default:
		return Pending{}
	}
}
