package authfetch

// Decision is what the RetryPolicy tells the executor to do next.
type Decision uint8

const (
	// DecisionGiveUpError surfaces the failure to the caller unchanged.
	DecisionGiveUpError Decision = iota
	// DecisionRetry renews the session and re-issues the original request.
	DecisionRetry
	// DecisionGiveUpSessionExpired notifies the host and returns SessionExpiredError.
	DecisionGiveUpSessionExpired
)

func (d Decision) String() string {
	switch d {
	case DecisionGiveUpError:
		return "give_up_error"
	case DecisionRetry:
		return "retry"
	case DecisionGiveUpSessionExpired:
		return "give_up_session_expired"
	default:
		return "unknown"
	}
}

// RetryPolicy decides between retrying and giving up.
type RetryPolicy interface {
	// Decide maps a failure classification and the number of refresh-driven
	// retries already spent on this request to a Decision.
	Decide(class Classification, attempts int) Decision
	// Escalate maps the outcome of a refresh taken on a DecisionRetry.
	Escalate(outcome RefreshOutcome) Decision
}

// maxRefreshRetries is the per-request bound on refresh-driven resends.
const maxRefreshRetries = 1

// BoundedRetryPolicy allows one refresh-driven resend per original request
// and never retries non-auth failures.
type BoundedRetryPolicy struct{}

// Decide implements RetryPolicy.
func (BoundedRetryPolicy) Decide(class Classification, attempts int) Decision {
	switch class {
	case ClassExpired:
		if attempts < maxRefreshRetries {
			return DecisionRetry
		}
		return DecisionGiveUpSessionExpired
	case ClassInvalid:
		return DecisionGiveUpSessionExpired
	default:
		return DecisionGiveUpError
	}
}

// Escalate implements RetryPolicy.
func (BoundedRetryPolicy) Escalate(outcome RefreshOutcome) Decision {
	if outcome.Renewed {
		return DecisionRetry
	}
	if outcome.Denial == DenialRefreshInvalid {
		return DecisionGiveUpSessionExpired
	}
	return DecisionGiveUpError
}
