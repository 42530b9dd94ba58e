package gate

import "net/http"

// ReasonCode is the stable, enumerable result code of a validation.
type ReasonCode string

const (
	ReasonAdmitted             ReasonCode = "Admitted"
	ReasonInvalidKey           ReasonCode = "InvalidKey"
	ReasonInvalidSecret        ReasonCode = "InvalidSecret"
	ReasonInactive             ReasonCode = "Inactive"
	ReasonExpired              ReasonCode = "Expired"
	ReasonOwnerMissing         ReasonCode = "OwnerMissing"
	ReasonAccountInactive      ReasonCode = "AccountInactive"
	ReasonAccountBlocked       ReasonCode = "AccountBlocked"
	ReasonNoActiveSubscription ReasonCode = "NoActiveSubscription"
	ReasonQuotaExceeded        ReasonCode = "QuotaExceeded"
	ReasonBackendUnavailable   ReasonCode = "BackendUnavailable"
)

// Category groups reason codes by recovery semantics.
type Category string

const (
	CategoryNone           Category = ""
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryQuota          Category = "quota"
	CategoryInfrastructure Category = "infrastructure"
)

// HTTPStatus returns the conventional status code for a REST wrapper.
func (r ReasonCode) HTTPStatus() int {
	switch r {
	case ReasonAdmitted:
		return http.StatusOK
	case ReasonInvalidKey, ReasonInvalidSecret:
		return http.StatusUnauthorized
	case ReasonInactive, ReasonExpired, ReasonOwnerMissing,
		ReasonAccountInactive, ReasonAccountBlocked, ReasonNoActiveSubscription:
		return http.StatusForbidden
	case ReasonQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// Category returns the failure category of the reason.
func (r ReasonCode) Category() Category {
	switch r {
	case ReasonAdmitted:
		return CategoryNone
	case ReasonInvalidKey, ReasonInvalidSecret:
		return CategoryAuthentication
	case ReasonInactive, ReasonExpired, ReasonOwnerMissing,
		ReasonAccountInactive, ReasonAccountBlocked, ReasonNoActiveSubscription:
		return CategoryAuthorization
	case ReasonQuotaExceeded:
		return CategoryQuota
	default:
		return CategoryInfrastructure
	}
}

// Retryable reports whether repeating the same request may succeed.
// Only infrastructure failures qualify; business rejections are terminal.
func (r ReasonCode) Retryable() bool {
	return r.Category() == CategoryInfrastructure
}

// Rejection is a business decision returned by a gate. It is not an error:
// gates report storage faults through their error return instead.
type Rejection struct {
	Reason  ReasonCode
	Message string
}

// Reject builds a rejection with a supplementary message.
func Reject(reason ReasonCode, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}
