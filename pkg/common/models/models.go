package models

import "time"

// Event is the envelope for everything published on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // simulation.run_started, simulation.run_completed, simulation.run_failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Kafka topics shared by the simulator and archiver services.
const (
	TopicSimulationRuns = "trialforge.simulation.runs"
)

// ParseRequest is the API payload for protocol parsing.
type ParseRequest struct {
	ProtocolText string `json:"protocol_text"`
}

// SimulationRequest configures one simulation run over a protocol text.
type SimulationRequest struct {
	ProtocolText     string `json:"protocol_text"`
	EnrollmentTarget int    `json:"enrollment_target"`
	Seed             int64  `json:"seed"`
	DrugModel        string `json:"drug_model,omitempty"`
	// nil thresholds fall back to service defaults; explicit zero is honored
	ResponseThreshold *float64 `json:"response_threshold,omitempty"`
	AdverseThreshold  *float64 `json:"adverse_threshold,omitempty"`
}

// DesignRequest asks the optimizer for diverse design candidates.
type DesignRequest struct {
	SampleSize int     `json:"sample_size"`
	EffectSize float64 `json:"effect_size,omitempty"`
	Alpha      float64 `json:"alpha,omitempty"`
	PickK      int     `json:"pick_k,omitempty"`
	Seed       int64   `json:"seed,omitempty"`
}
