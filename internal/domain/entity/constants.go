package entity

// Status constants for MaintenanceRequest (cached projection of the stage decisions)
const (
	StatusOpen                 = "open"
	StatusCancelledByRequester = "cancelled_by_requester"
	StatusRejected             = "rejected"
	StatusClosed               = "closed"
)

// Stage decision values as persisted
const (
	DecisionProceed = "proceed"
	DecisionReject  = "reject"
)

// Stage names
const (
	StageVerification   = "verification"
	StageRecommendation = "recommendation"
	StageApproval       = "approval"
	StageCancellation   = "cancellation"
)

// ServiceOrderPrefix prefixes the natural billing key derived from a request id
const ServiceOrderPrefix = "MR-"
