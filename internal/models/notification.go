package models

// MessageKind selects which transactional message the notifier renders.
type MessageKind string

const (
	MessageEmailVerification MessageKind = "email_verification"
	MessagePasswordReset     MessageKind = "password_reset"
	MessageSecurityAlert     MessageKind = "security_alert"
)

// Payload keys understood by notifiers
const (
	PayloadToken     = "token"
	PayloadExpiresAt = "expires_at"
	PayloadAlert     = "alert"
)
