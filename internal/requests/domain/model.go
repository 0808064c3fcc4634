package domain

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inprogress"
	StatusDone       Status = "done"
	StatusCanceled   Status = "canceled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusDone, StatusCanceled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusCanceled:
		return true
	}
	return false
}

// Editable reports whether non-status fields may change in s.
func (s Status) Editable() bool { return s == StatusPending || s == StatusInProgress }

// Request is a posted need for blood. Requester fields are fixed at creation;
// donor fields are stamped once, when the request is accepted.
type Request struct {
	ID                string    `json:"id"`
	RequesterName     string    `json:"requesterName"`
	RequesterEmail    string    `json:"requesterEmail"`
	RecipientName     string    `json:"recipientName"`
	RecipientDistrict string    `json:"recipientDistrict"`
	RecipientUpazila  string    `json:"recipientUpazila"`
	FullAddress       string    `json:"fullAddress"`
	HospitalName      string    `json:"hospitalName"`
	BloodGroup        string    `json:"bloodGroup"`
	DonationDate      string    `json:"donationDate"`
	DonationTime      string    `json:"donationTime"`
	RequestMessage    string    `json:"requestMessage"`
	DonorName         string    `json:"donorName"`
	DonorEmail        string    `json:"donorEmail"`
	DonationStatus    Status    `json:"donationStatus"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Details are the recipient and medical fields the requester supplies.
type Details struct {
	RecipientName     string
	RecipientDistrict string
	RecipientUpazila  string
	FullAddress       string
	HospitalName      string
	BloodGroup        string
	DonationDate      string
	DonationTime      string
	RequestMessage    string
}

// Patch is a partial update of Details; nil means unchanged.
type Patch struct {
	RecipientName     *string
	RecipientDistrict *string
	RecipientUpazila  *string
	FullAddress       *string
	HospitalName      *string
	BloodGroup        *string
	DonationDate      *string
	DonationTime      *string
	RequestMessage    *string
}

// Apply returns d with every non-nil field of p written over it.
func (p Patch) Apply(d Details) Details {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&d.RecipientName, p.RecipientName)
	set(&d.RecipientDistrict, p.RecipientDistrict)
	set(&d.RecipientUpazila, p.RecipientUpazila)
	set(&d.FullAddress, p.FullAddress)
	set(&d.HospitalName, p.HospitalName)
	set(&d.BloodGroup, p.BloodGroup)
	set(&d.DonationDate, p.DonationDate)
	set(&d.DonationTime, p.DonationTime)
	set(&d.RequestMessage, p.RequestMessage)
	return d
}

func (r *Request) Details() Details {
	return Details{
		RecipientName:     r.RecipientName,
		RecipientDistrict: r.RecipientDistrict,
		RecipientUpazila:  r.RecipientUpazila,
		FullAddress:       r.FullAddress,
		HospitalName:      r.HospitalName,
		BloodGroup:        r.BloodGroup,
		DonationDate:      r.DonationDate,
		DonationTime:      r.DonationTime,
		RequestMessage:    r.RequestMessage,
	}
}

func (r *Request) SetDetails(d Details) {
	r.RecipientName = d.RecipientName
	r.RecipientDistrict = d.RecipientDistrict
	r.RecipientUpazila = d.RecipientUpazila
	r.FullAddress = d.FullAddress
	r.HospitalName = d.HospitalName
	r.BloodGroup = d.BloodGroup
	r.DonationDate = d.DonationDate
	r.DonationTime = d.DonationTime
	r.RequestMessage = d.RequestMessage
}

// Assignee is the donor stamped onto a request when it is accepted.
type Assignee struct {
	Name  string
	Email string
}

// Filter narrows request listings.
type Filter struct {
	RequesterEmail string
	Status         Status
	Limit          int
	Offset         int
}
