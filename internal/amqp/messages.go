package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contas/internal/core"
)

// ErrMalformed marks a delivery that can never be processed and must not be
// requeued.
var ErrMalformed = errors.New("malformed message")

// ReplicationRequest asks the worker to materialize one period for one owner.
type ReplicationRequest struct {
	OwnerID   string    `json:"owner_id"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReplicationRequest(ownerID string, p core.Period) *ReplicationRequest {
	return &ReplicationRequest{
		OwnerID:   ownerID,
		Year:      p.Year,
		Month:     int(p.Month),
		Timestamp: time.Now(),
	}
}

// Period validates and returns the requested period.
func (m *ReplicationRequest) Period() (core.Period, error) {
	p, err := core.NewPeriod(m.Year, m.Month)
	if err != nil {
		return core.Period{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return p, nil
}

func (m *ReplicationRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReplicationRequestFromJSON decodes a request, rejecting ones without owner.
func ReplicationRequestFromJSON(data []byte) (*ReplicationRequest, error) {
	var msg ReplicationRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner_id", ErrMalformed)
	}
	return &msg, nil
}

// ReportInvalidation tells every API process to drop the cached installment
// report of one owner.
type ReportInvalidation struct {
	OwnerID   string    `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReportInvalidation(ownerID string) *ReportInvalidation {
	return &ReportInvalidation{OwnerID: ownerID, Timestamp: time.Now()}
}

func (m *ReportInvalidation) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReportInvalidationFromJSON(data []byte) (*ReportInvalidation, error) {
	var msg ReportInvalidation
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner_id", ErrMalformed)
	}
	return &msg, nil
}
