package domain

import (
	"strings"
	"time"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

type Role string

const (
	RoleDonor     Role = "donor"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleDonor || r == RoleVolunteer || r == RoleAdmin
}

type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusBlocked
}

// BloodGroups lists the accepted ABO/Rh values.
var BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// NormalizeBloodGroup upper-cases and validates a blood group.
func NormalizeBloodGroup(bg string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(bg))
	for _, g := range BloodGroups {
		if g == v {
			return v, nil
		}
	}
	return "", errs.Validation("invalid blood group %q", bg)
}

// Donor is a registered platform user of any role. Email never changes after
// creation.
type Donor struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Image      string    `json:"image"`
	BloodGroup string    `json:"bloodGroup"`
	District   string    `json:"district"`
	Upazila    string    `json:"upazila"`
	Role       Role      `json:"role"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RegisterInput carries the profile fields of a new donor.
type RegisterInput struct {
	Name       string
	Image      string
	BloodGroup string
	District   string
	Upazila    string
}

// ProfileUpdate holds the owner-editable fields; nil means unchanged.
type ProfileUpdate struct {
	Email      *string
	Name       *string
	Image      *string
	BloodGroup *string
	District   *string
	Upazila    *string
}

// SearchFilter is AND-ed; empty fields match everything.
type SearchFilter struct {
	BloodGroup     string
	District       string
	Upazila        string
	IncludeBlocked bool
}

// ListFilter is used by the admin listing.
type ListFilter struct {
	Email      string
	Role       Role
	Status     Status
	BloodGroup string
	District   string
	Upazila    string
	Limit      int
	Offset     int
}
