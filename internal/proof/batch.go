package proof

import (
	"context" // Request scoped cancellation

	"dairy_delivery/internal/domain" // Error codes

	"github.com/sirupsen/logrus" // Logging library
)

// Action types accepted in a batch
const (
	ActionVerifyProof     = "VERIFY_PROOF"
	ActionReportException = "REPORT_EXCEPTION"
)

// StatusFailed marks a batch item whose action was rejected
const StatusFailed = "FAILED"

// Action is one queued field action, typically replayed by an offline device
type Action struct {
	Type       string `json:"type"`                  // VERIFY_PROOF or REPORT_EXCEPTION
	Code       string `json:"code,omitempty"`        // Proof code to redeem
	DeliveryID uint   `json:"delivery_id,omitempty"` // Delivery that was missed
	Reason     string `json:"reason,omitempty"`      // Miss reason
}

// ActionResult is the outcome of one batch item
type ActionResult struct {
	Index      int    `json:"index"`                 // Position in the request
	Type       string `json:"type"`                  // Action type
	Status     string `json:"status"`                // Result status or FAILED
	DeliveryID uint   `json:"delivery_id,omitempty"` // Affected delivery
	Error      string `json:"error,omitempty"`       // Stable error code on failure
	Message    string `json:"message,omitempty"`     // Error detail
}

// ApplyBatch applies actions in order, each in its own unit of work, so one
// failure never blocks the rest
func (s *Service) ApplyBatch(ctx context.Context, staffID uint, staffLocality string, actions []Action) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for i, a := range actions {
		var (
			res *Result
			err error
		)
		switch a.Type {
		case ActionVerifyProof:
			res, err = s.VerifyProof(ctx, a.Code, staffID)
		case ActionReportException:
			res, err = s.ReportException(ctx, a.DeliveryID, a.Reason, staffID, staffLocality)
		default:
			results = append(results, ActionResult{Index: i, Type: a.Type, Status: StatusFailed, Error: "UNKNOWN_ACTION", Message: "unknown action type"})
			continue
		}
		if err != nil {
			code, msg := domain.CodeOf(err), err.Error()
			if code == domain.CodeInternal {
				logrus.WithFields(logrus.Fields{
					"staff_id": staffID, // Staff member
					"index":    i,       // Batch position
					"type":     a.Type,  // Action type
					"error":    msg,     // Error message
				}).Error("Batch action failed")
				msg = "internal error" // Store detail stays in the logs
			}
			results = append(results, ActionResult{Index: i, Type: a.Type, Status: StatusFailed, DeliveryID: a.DeliveryID, Error: code, Message: msg})
			continue
		}
		results = append(results, ActionResult{Index: i, Type: a.Type, Status: res.Status, DeliveryID: res.DeliveryID})
	}
	return results
}
