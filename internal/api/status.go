package api

import "time"

// Phase is the sync state of an application.
type Phase string

const (
	PhaseUnknown           Phase = "Unknown"
	PhaseSyncing           Phase = "Syncing"
	PhaseSynced            Phase = "Synced"
	PhaseOutOfSyncDetected Phase = "OutOfSyncDetected"
	PhaseFailed            Phase = "Failed"
	PhaseDegraded          Phase = "Degraded"
)

// AllPhases lists every phase, used for metrics and validation.
var AllPhases = []Phase{
	PhaseUnknown,
	PhaseSyncing,
	PhaseSynced,
	PhaseOutOfSyncDetected,
	PhaseFailed,
	PhaseDegraded,
}

// HealthStatus is the readiness of a single resource or an aggregate.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "Healthy"
	HealthProgressing HealthStatus = "Progressing"
	HealthDegraded    HealthStatus = "Degraded"
	HealthMissing     HealthStatus = "Missing"
	HealthUnknown     HealthStatus = "Unknown"
)

// DiffStatus classifies a resource after comparing desired and live state.
type DiffStatus string

const (
	DiffInSync    DiffStatus = "InSync"
	DiffOutOfSync DiffStatus = "OutOfSync"
	DiffMissing   DiffStatus = "Missing"
	DiffOrphaned  DiffStatus = "Orphaned"
)

// HealthSummary aggregates resource health for an application.
type HealthSummary struct {
	Status      HealthStatus `json:"status"`
	Healthy     int          `json:"healthy"`
	Progressing int          `json:"progressing"`
	Degraded    int          `json:"degraded"`
	Missing     int          `json:"missing"`
	Message     string       `json:"message,omitempty"`
}

// Add folds one resource health into the summary. The aggregate status is the
// worst seen so far: Degraded over Missing over Progressing over Healthy.
func (h *HealthSummary) Add(status HealthStatus) {
	switch status {
	case HealthHealthy:
		h.Healthy++
	case HealthProgressing:
		h.Progressing++
	case HealthDegraded:
		h.Degraded++
	case HealthMissing:
		h.Missing++
	}
	switch {
	case h.Degraded > 0:
		h.Status = HealthDegraded
	case h.Missing > 0:
		h.Status = HealthMissing
	case h.Progressing > 0:
		h.Status = HealthProgressing
	case h.Healthy > 0:
		h.Status = HealthHealthy
	default:
		h.Status = HealthUnknown
	}
}

// ResourceStatus is the per-resource line of an AppStatus.
type ResourceStatus struct {
	Key     ResourceKey  `json:"key"`
	Status  DiffStatus   `json:"status"`
	Health  HealthStatus `json:"health"`
	Message string       `json:"message,omitempty"`
}

// DiffSummary is the serializable form of a resource diff.
type DiffSummary struct {
	Key             ResourceKey `json:"key"`
	Status          DiffStatus  `json:"status"`
	Replace         bool        `json:"replace,omitempty"`
	ImmutableFields []string    `json:"immutableFields,omitempty"`
	Diff            string      `json:"diff,omitempty"`
}

// AppStatus is the read model of an application returned by GetStatus.
type AppStatus struct {
	Application Application `json:"application"`
	Phase       Phase       `json:"phase"`

	// Revision is the source revision observed by the last compare.
	Revision string `json:"revision,omitempty"`

	// SyncedRevision is the revision of the last successful non-dry-run sync.
	SyncedRevision string `json:"syncedRevision,omitempty"`

	LastSyncOperation *SyncOperation   `json:"lastSyncOperation,omitempty"`
	Health            HealthSummary    `json:"health"`
	Resources         []ResourceStatus `json:"resources,omitempty"`
	Error             *ErrorInfo       `json:"error,omitempty"`
	LastComparedAt    *time.Time       `json:"lastComparedAt,omitempty"`
}

// DeepCopy returns a copy that shares no mutable memory with s.
func (s *AppStatus) DeepCopy() *AppStatus {
	if s == nil {
		return nil
	}
	out := *s
	out.LastSyncOperation = s.LastSyncOperation.DeepCopy()
	out.Error = s.Error.DeepCopy()
	out.LastComparedAt = copyTime(s.LastComparedAt)
	if s.Resources != nil {
		out.Resources = make([]ResourceStatus, len(s.Resources))
		copy(out.Resources, s.Resources)
	}
	return &out
}
