package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldService   = "service"
	FieldStoreID   = "store_id"
	FieldCameraID  = "camera_id"
	FieldOrgID     = "org_id"
	FieldEventName = "event_name"
	FieldReceiptID = "receipt_id"
	FieldStatus    = "status"
	FieldAttempts  = "attempts"
	FieldIP        = "ip"
	FieldError     = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// StoreID returns a slog attribute for the store id.
func StoreID(id string) slog.Attr {
	return slog.String(FieldStoreID, id)
}

// CameraID returns a slog attribute for the camera id.
func CameraID(id string) slog.Attr {
	return slog.String(FieldCameraID, id)
}

// OrgID returns a slog attribute for the org id.
func OrgID(id string) slog.Attr {
	return slog.String(FieldOrgID, id)
}

// EventName returns a slog attribute for the envelope event name.
func EventName(name string) slog.Attr {
	return slog.String(FieldEventName, name)
}

// ReceiptID returns a slog attribute for the idempotency key.
func ReceiptID(id string) slog.Attr {
	return slog.String(FieldReceiptID, id)
}

// Status returns a slog attribute for a liveness status value.
func Status(status string) slog.Attr {
	return slog.String(FieldStatus, status)
}

// Attempts returns a slog attribute for a delivery attempt count.
func Attempts(n int) slog.Attr {
	return slog.Int(FieldAttempts, n)
}

// IP returns a slog attribute for a client IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Err returns a slog attribute for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
