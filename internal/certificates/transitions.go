package certificates

import "github.com/barangay-registry/civil-registry/internal/db/models"

// transitions lists the statuses reachable from each status. Terminal statuses map to nothing.
var transitions = map[models.CertificateStatus][]models.CertificateStatus{
	models.CertificateStatusRequested: {models.CertificateStatusApproved, models.CertificateStatusRejected},
	models.CertificateStatusApproved:  {models.CertificateStatusReleased, models.CertificateStatusRejected},
	models.CertificateStatusReleased:  nil,
	models.CertificateStatusRejected:  nil,
}

// CanTransition reports whether a request in status from may move to status to
func CanTransition(from, to models.CertificateStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from s
func AllowedTransitions(s models.CertificateStatus) []models.CertificateStatus {
	return append([]models.CertificateStatus(nil), transitions[s]...)
}
