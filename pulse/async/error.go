package async

import (
	"context"

	"github.com/teranos/reel/errors"
)

// ErrorKind represents the classification of a job failure
type ErrorKind string

const (
	ErrorKindTransientProvider ErrorKind = "transient_provider"
	ErrorKindUnreadableMedia   ErrorKind = "unreadable_media"
	ErrorKindNoClipsMatched    ErrorKind = "no_clips_matched"
	ErrorKindStageFailed       ErrorKind = "stage_failed"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindTimeout           ErrorKind = "timeout"
)

// ClassifyError maps a stage failure onto the kind recorded on the job.
// Sentinels are matched through the whole wrap chain; anything unknown is
// a plain stage failure.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindStageFailed
	case errors.Is(err, errors.ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, errors.ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, errors.ErrTransientProvider):
		return ErrorKindTransientProvider
	case errors.Is(err, errors.ErrUnreadableMedia):
		return ErrorKindUnreadableMedia
	case errors.Is(err, errors.ErrNoClipsMatched):
		return ErrorKindNoClipsMatched
	default:
		return ErrorKindStageFailed
	}
}
