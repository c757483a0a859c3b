// Package highlight implements the two reel pipelines on top of the async
// job engine: the stage bodies, the gate confirmation hooks, and the
// Orchestrator that creates, confirms, and cancels jobs.
package highlight

import (
	"encoding/json"
	"strings"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/pulse/async"
)

// Request is what a caller submits to start a job. It is stored as the
// job payload.
type Request struct {
	Mode    async.Mode `json:"mode"`
	Theme   string     `json:"theme,omitempty"`
	Source  string     `json:"source"`
	Options Options    `json:"options"`
}

// Options overrides configured defaults for one job. Zero values mean
// "use the configuration".
type Options struct {
	Threshold      *float64 `json:"threshold,omitempty"`
	TopK           int      `json:"top_k,omitempty"`
	Dimension      int      `json:"dimension,omitempty"`
	SegmentSeconds float64  `json:"segment_seconds,omitempty"`
	Crossfade      *float64 `json:"crossfade,omitempty"`
	Providers      []string `json:"providers,omitempty"` // direct mode subset of the configured localizers
}

// Validate checks the request. Theme is required in embedding mode only.
func (r *Request) Validate() error {
	mode, err := async.ParseMode(string(r.Mode))
	if err != nil {
		return err
	}
	r.Mode = mode
	r.Theme = strings.TrimSpace(r.Theme)
	r.Source = strings.TrimSpace(r.Source)

	if r.Source == "" {
		return errors.NewInvalidRequestError("source is required")
	}
	if mode == async.ModeEmbedding && r.Theme == "" {
		return errors.NewInvalidRequestError("theme is required in embedding mode")
	}

	o := r.Options
	if o.Threshold != nil && (*o.Threshold < -1 || *o.Threshold > 1) {
		return errors.NewInvalidRequestError("threshold %g is outside [-1, 1]", *o.Threshold)
	}
	if o.TopK < 0 {
		return errors.NewInvalidRequestError("top_k must be positive, got %d", o.TopK)
	}
	if o.Dimension != 0 && !oracle.ValidDimension(o.Dimension) {
		return errors.NewInvalidRequestError("dimension %d is not one of %v", o.Dimension, oracle.AllowedDimensions)
	}
	if o.SegmentSeconds < 0 {
		return errors.NewInvalidRequestError("segment_seconds must be positive, got %g", o.SegmentSeconds)
	}
	if o.Crossfade != nil && *o.Crossfade < 0 {
		return errors.NewInvalidRequestError("crossfade must not be negative, got %g", *o.Crossfade)
	}
	if mode == async.ModeEmbedding && len(o.Providers) > 0 {
		return errors.NewInvalidRequestError("providers only apply to direct mode")
	}
	return nil
}

// Payload encodes the request for the job record.
func (r *Request) Payload() (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}
	return data, nil
}
