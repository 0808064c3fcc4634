// Package geo serves the district/upazila reference lists and matches free-text
// locations against them.
package geo

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

//go:embed data/*.json
var dataFS embed.FS

type District struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Upazila struct {
	ID         string `json:"id"`
	DistrictID string `json:"district_id"`
	Name       string `json:"name"`
}

// Catalog is read-only after Load and safe for concurrent use.
type Catalog struct {
	districts  []District
	byName     map[string]District
	byDistrict map[string][]Upazila
}

// Load parses the embedded reference data.
func Load() (*Catalog, error) {
	var districts []District
	if err := readJSON("data/districts.json", &districts); err != nil {
		return nil, err
	}
	var upazilas []Upazila
	if err := readJSON("data/upazilas.json", &upazilas); err != nil {
		return nil, err
	}
	return New(districts, upazilas), nil
}

func New(districts []District, upazilas []Upazila) *Catalog {
	c := &Catalog{
		districts:  append([]District(nil), districts...),
		byName:     make(map[string]District, len(districts)),
		byDistrict: make(map[string][]Upazila),
	}
	sort.Slice(c.districts, func(i, j int) bool { return c.districts[i].Name < c.districts[j].Name })
	for _, d := range c.districts {
		c.byName[key(d.Name)] = d
	}
	for _, u := range upazilas {
		c.byDistrict[u.DistrictID] = append(c.byDistrict[u.DistrictID], u)
	}
	for id := range c.byDistrict {
		list := c.byDistrict[id]
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return c
}

func (c *Catalog) Districts() []District {
	return append([]District(nil), c.districts...)
}

// Upazilas lists the sub-districts of the named district.
func (c *Catalog) Upazilas(district string) ([]Upazila, error) {
	d, ok := c.byName[key(district)]
	if !ok {
		return nil, errs.NotFound("unknown district %q", district)
	}
	return append([]Upazila{}, c.byDistrict[d.ID]...), nil
}

// Canonical matches district and upazila case-insensitively and returns the
// reference spelling. Districts with no listed upazilas accept any non-empty
// upazila as given.
func (c *Catalog) Canonical(district, upazila string) (string, string, error) {
	d, ok := c.byName[key(district)]
	if !ok {
		return "", "", errs.Validation("unknown district %q", district)
	}
	upazila = strings.TrimSpace(upazila)
	if upazila == "" {
		return "", "", errs.Validation("upazila is required")
	}
	list := c.byDistrict[d.ID]
	if len(list) == 0 {
		return d.Name, upazila, nil
	}
	for _, u := range list {
		if key(u.Name) == key(upazila) {
			return d.Name, u.Name, nil
		}
	}
	return "", "", errs.Validation("upazila %q is not in district %s", upazila, d.Name)
}

func key(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func readJSON(name string, v any) error {
	b, err := dataFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
