package models

import "time"

// Audit actions recorded by the session gate and admin operations.
const (
	AuditLoginSuccess            = "LOGIN_SUCCESS"
	AuditLoginBlockedPending     = "LOGIN_BLOCKED_PENDING_APPROVAL"
	AuditDeviceEnrollmentPending = "DEVICE_ENROLLMENT_PENDING"
	AuditDeviceAutoApprovedAdmin = "DEVICE_AUTO_APPROVED_ADMIN"
	AuditDeviceApproved          = "DEVICE_APPROVED"
	AuditDeviceRevoked           = "DEVICE_REVOKED"
	AuditDeviceAuthorizedOTP     = "DEVICE_AUTHORIZED_OTP"
	AuditOTPChallengeCreated     = "OTP_CHALLENGE_CREATED"
	AuditImpersonationStart      = "ADMIN_IMPERSONATION_START"
	AuditSessionsRevokedAll      = "SESSIONS_REVOKED_ALL"
	AuditPasswordResetRequested  = "PASSWORD_RESET_REQUESTED"
	AuditPasswordResetSuccess    = "PASSWORD_RESET_SUCCESS"
	AuditUserApproved            = "USER_APPROVED"
)

// AuditLog is an append-only record of a security-relevant event.
// DeviceID carries the client fingerprint when the event involves one.
type AuditLog struct {
	ID        string
	UserID    *string
	Action    string
	IPAddress string
	DeviceID  *string
	Details   map[string]string
	CreatedAt time.Time
}
