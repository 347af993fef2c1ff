package crawler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ApplyTransition validates a status change against job and applies it in
// place. Stores call it under their own locking or inside a transaction.
func ApplyTransition(job *CrawlJob, status JobStatus, fields TransitionFields, now time.Time) error {
	if !CanTransition(job.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionRejected, job.Status, status)
	}
	if (status == JobStatusFailed || status == JobStatusCancelled) && fields.ErrorMessage == "" {
		return ErrErrorMessageRequired
	}
	job.Status = status
	job.UpdatedAt = now
	switch {
	case status == JobStatusCompleted:
		// Errors left by earlier attempts do not survive a successful run.
		job.ErrorMessage = ""
		job.ErrorDetail = nil
	default:
		if fields.ErrorMessage != "" {
			job.ErrorMessage = fields.ErrorMessage
		}
		if fields.ErrorDetail != nil {
			detail := *fields.ErrorDetail
			job.ErrorDetail = &detail
		}
	}
	if fields.Counters != nil {
		job.Counters = *fields.Counters
	}
	switch {
	case fields.StartedAt != nil:
		job.StartedAt = timePtr(*fields.StartedAt)
	case status == JobStatusActive && job.StartedAt == nil:
		job.StartedAt = timePtr(now)
	}
	if status.Terminal() {
		completed := now
		if fields.CompletedAt != nil {
			completed = *fields.CompletedAt
		}
		job.CompletedAt = timePtr(completed)
		switch {
		case fields.DurationMs != nil:
			d := *fields.DurationMs
			job.DurationMs = &d
		case job.StartedAt != nil:
			d := completed.Sub(*job.StartedAt).Milliseconds()
			job.DurationMs = &d
		}
	}
	return nil
}

// NewJobID builds the external job id "<prefix>_<vendor>_<unixms>_<8 hex>".
// Scheduled runs use the "auto" prefix.
func NewJobID(mode JobMode, vendorID string, now time.Time) (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("job id entropy: %w", err)
	}
	prefix := string(mode)
	if mode == JobModeScheduled {
		prefix = "auto"
	}
	return fmt.Sprintf("%s_%s_%d_%s", prefix, vendorID, now.UnixMilli(), hex.EncodeToString(buf[:])), nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// Schedule is a recurring crawl registration for one vendor.
type Schedule struct {
	VendorID      string    `json:"vendorId"`
	IntervalHours int       `json:"intervalHours"`
	StartAt       time.Time `json:"startAt"`
	NextFireAt    time.Time `json:"nextFireAtUtc"`
	CronSpec      string    `json:"cronSpec"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Subscriber is a storefront user who may receive price alerts.
type Subscriber struct {
	UserID          string   `json:"userId"`
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	AlertsEnabled   bool     `json:"alertsEnabled"`
	SavedProductIDs []string `json:"savedProductIds"`
}
