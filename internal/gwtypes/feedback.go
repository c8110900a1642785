package gwtypes

import "encoding/json"

// MetricKind is the value shape a metric accepts.
type MetricKind string

const (
	MetricBoolean       MetricKind = "boolean"
	MetricFloat         MetricKind = "float"
	MetricComment       MetricKind = "comment"
	MetricDemonstration MetricKind = "demonstration"
)

// MetricLevel is the target a metric attaches to.
type MetricLevel string

const (
	LevelInference MetricLevel = "inference"
	LevelEpisode   MetricLevel = "episode"
)

// MetricDef is the configured kind/level for one metric name (component A).
type MetricDef struct {
	Name  string
	Kind  MetricKind
	Level MetricLevel
}

// Feedback is one submitted feedback event (component G).
type Feedback struct {
	FeedbackID ID `json:"feedback_id"`

	MetricName string `json:"metric_name"`
	Kind       MetricKind `json:"-"`

	InferenceID *ID `json:"inference_id,omitempty"`
	EpisodeID   *ID `json:"episode_id,omitempty"`

	Value json.RawMessage `json:"value"`

	DryRun bool              `json:"dryrun,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// TargetID returns whichever of InferenceID/EpisodeID is set, for
// materialized "by-target-id" views.
func (f *Feedback) TargetID() (ID, MetricLevel, bool) {
	if f.InferenceID != nil {
		return *f.InferenceID, LevelInference, true
	}

	if f.EpisodeID != nil {
		return *f.EpisodeID, LevelEpisode, true
	}

	return ID{}, "", false
}
