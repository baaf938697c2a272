package domain

import "time"

type Stage string

const (
	StageSearch  Stage = "search"
	StageMonitor Stage = "monitor"
	StageBook    Stage = "book"
	StageNotify  Stage = "notify"
)

// Stages lists every pipeline stage in pipeline order.
var Stages = []Stage{StageSearch, StageMonitor, StageBook, StageNotify}

func (s Stage) Valid() bool {
	switch s {
	case StageSearch, StageMonitor, StageBook, StageNotify:
		return true
	}
	return false
}

// ScoreMultiplier separates priorities inside a stage's sorted set.
const ScoreMultiplier = 1_000_000

type Job struct {
	ID            string    `json:"id"`
	TripRequestID string    `json:"trip_request_id" validate:"required"`
	OfferID       string    `json:"offer_id,omitempty"`
	Stage         Stage     `json:"stage" validate:"required,oneof=search monitor book notify"`
	Priority      int       `json:"priority" validate:"gte=0"`
	CreatedAt     time.Time `json:"created_at"`
	RetryCount    int       `json:"retry_count" validate:"gte=0"`
}

// Score orders jobs inside a stage: lower priority value first, then older first.
func (j Job) Score() float64 {
	return float64(j.Priority)*ScoreMultiplier + float64(j.CreatedAt.Unix())
}
