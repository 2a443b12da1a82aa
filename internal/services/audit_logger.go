package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/rupeeback/backend/internal/models"
)

type AuditEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"event_type"`
	AccountID      string    `json:"account_id"`
	ReferenceID    string    `json:"reference_id"`
	DeltaAvailable int64     `json:"delta_available"`
	DeltaPending   int64     `json:"delta_pending"`
	Status         string    `json:"status"`
	Details        any       `json:"details,omitempty"`
}

// AuditLogger mirrors every durable audit entry onto the process log so the
// trail is visible without a database session. The database table stays the
// source of truth.
type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogApply(op models.AuditOperation, accountID, referenceID string, deltaAvailable, deltaPending int64) {
	a.log(AuditEvent{
		Timestamp:      time.Now(),
		EventType:      string(op),
		AccountID:      accountID,
		ReferenceID:    referenceID,
		DeltaAvailable: deltaAvailable,
		DeltaPending:   deltaPending,
		Status:         "SUCCESS",
	})
}

func (a *AuditLogger) LogError(referenceID, accountID string, err error) {
	a.log(AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		AccountID:   accountID,
		ReferenceID: referenceID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) LogDebt(accountID, transactionID string, amount int64) {
	a.log(AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "ADJUSTMENT_DEBT",
		AccountID:   accountID,
		ReferenceID: transactionID,
		Status:      "FLAGGED",
		Details:     map[string]int64{"debt_amount": amount},
	})
}

func (a *AuditLogger) LogDrift(accountID string, live, replayed models.Balances) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "LEDGER_DRIFT",
		AccountID: accountID,
		Status:    "FATAL",
		Details:   map[string]models.Balances{"live": live, "replayed": replayed},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
