package promocode

// Reason classifies the outcome of an eligibility check or redemption
// attempt. Collaborators map each value to their own user-facing message;
// the store itself does no formatting.
type Reason string

const (
	ReasonOK                     Reason = "ok"
	ReasonNotFound               Reason = "not_found"
	ReasonExpired                Reason = "expired"
	ReasonDepleted               Reason = "depleted"
	ReasonHiddenRequiresIdentity Reason = "hidden_requires_identity"
	ReasonUserLimitReached       Reason = "user_limit_reached"
)
