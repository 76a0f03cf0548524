// Package models - certificate.go defines the CertificateRequest model together with the
// closed enumerations for certificate type and request status.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CertificateType is the kind of certificate being requested
type CertificateType string

const (
	CertificateTypeClearance      CertificateType = "CLEARANCE"
	CertificateTypeIndigency      CertificateType = "INDIGENCY"
	CertificateTypeResidency      CertificateType = "RESIDENCY"
	CertificateTypeBusinessPermit CertificateType = "BUSINESS_PERMIT"
	CertificateTypeCedula         CertificateType = "CEDULA"
)

// CertificateTypes lists every certificate type in display order
var CertificateTypes = []CertificateType{
	CertificateTypeClearance,
	CertificateTypeIndigency,
	CertificateTypeResidency,
	CertificateTypeBusinessPermit,
	CertificateTypeCedula,
}

// Valid reports whether t is a known certificate type
func (t CertificateType) Valid() bool {
	for _, known := range CertificateTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CertificateStatus is the lifecycle state of a certificate request
type CertificateStatus string

const (
	CertificateStatusRequested CertificateStatus = "REQUESTED"
	CertificateStatusApproved  CertificateStatus = "APPROVED"
	CertificateStatusReleased  CertificateStatus = "RELEASED"
	CertificateStatusRejected  CertificateStatus = "REJECTED"
)

// CertificateStatuses lists every status in lifecycle order
var CertificateStatuses = []CertificateStatus{
	CertificateStatusRequested,
	CertificateStatusApproved,
	CertificateStatusReleased,
	CertificateStatusRejected,
}

// Valid reports whether s is a known status
func (s CertificateStatus) Valid() bool {
	for _, known := range CertificateStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s
func (s CertificateStatus) IsTerminal() bool {
	return s == CertificateStatusReleased || s == CertificateStatusRejected
}

// CertificateRequest is a resident's request for a barangay certificate
type CertificateRequest struct {
	ID            string              `db:"id" json:"id"`
	PersonID      string              `db:"person_id" json:"personId"`
	Type          CertificateType     `db:"type" json:"type"`
	Purpose       string              `db:"purpose" json:"purpose"`
	Status        CertificateStatus   `db:"status" json:"status"`
	ControlNumber string              `db:"control_number" json:"controlNumber"`
	ORNumber      *string             `db:"or_number" json:"orNumber"`
	Amount        decimal.NullDecimal `db:"amount" json:"amount"`
	Remarks       *string             `db:"remarks" json:"remarks"`
	IssuedBy      *string             `db:"issued_by" json:"issuedBy"`
	CreatedAt     time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updatedAt"`
}

// Clone returns a copy whose pointer fields do not alias the receiver's
func (c *CertificateRequest) Clone() *CertificateRequest {
	out := *c
	out.ORNumber = cloneString(c.ORNumber)
	out.Remarks = cloneString(c.Remarks)
	out.IssuedBy = cloneString(c.IssuedBy)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
