package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated = "account.created"

	// Usage actions
	ActionUsageDecremented = "usage.decremented"
	ActionQuotaExceeded    = "quota.exceeded"

	// Trial actions
	ActionTrialClaimed     = "trial.claimed"
	ActionTrialRejected    = "trial.rejected"
	ActionTrialUnfinalized = "trial.unfinalized"
	ActionCreditsRestored  = "credits.restored"

	// Billing actions
	ActionSubscriptionSynced = "subscription.synced"
	ActionWebhookReceived    = "webhook.received"
)

// Resource constants for audit events.
const (
	ResourceAccount      = "account"
	ResourceUsage        = "usage"
	ResourceTrial        = "trial"
	ResourceSubscription = "subscription"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategoryAccount     = "account"
	CategoryUsage       = "usage"
	CategoryTrial       = "trial"
	CategoryAccess      = "access"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
