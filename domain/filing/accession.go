package filing

import (
	"errors"
	"fmt"
	"strings"
)

var MalformedIdErr error = errors.New("Malformed accession number error")

// AccessionNumber is EDGAR's primary key for a submission. Its three
// components are the short cik of the filing agent, the filing year and
// a six digit sequence number within that year. Values are immutable
// once constructed and always satisfy the shape checks below.
type AccessionNumber struct {
	shortCik string
	year     string
	sequence string
}

// ParseAccessionNumber accepts both the long form '0001193125-15-118890'
// and forms with less zero padding on the cik component. All paddings of
// the same identifier parse to the same value.
func ParseAccessionNumber(raw string) (AccessionNumber, error) {
	parts := strings.Split(raw, "-")
	if len(parts) < 3 {
		return AccessionNumber{}, MalformedIdErr
	}
	return NewAccessionNumber(strings.TrimLeft(parts[0], "0"), "20"+parts[1], parts[2])
}

func NewAccessionNumber(shortCik, year, sequence string) (AccessionNumber, error) {
	a := AccessionNumber{shortCik: shortCik, year: year, sequence: sequence}
	if !a.valid() {
		return AccessionNumber{}, MalformedIdErr
	}
	return a, nil
}

func (a AccessionNumber) valid() bool {
	if len(a.shortCik) < 1 || len(a.shortCik) > 9 {
		return false
	}
	if len(a.year) != 4 || a.year[0:2] != "20" {
		return false
	}
	for _, r := range a.shortCik + a.sequence + a.year[2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(a.sequence) == 6
}

func (a AccessionNumber) ShortCik() string { return a.shortCik }
func (a AccessionNumber) Year() string     { return a.year }
func (a AccessionNumber) Sequence() string { return a.sequence }

func (a AccessionNumber) IsZero() bool {
	return a == AccessionNumber{}
}

// String returns the canonical long form with a ten digit zero padded
// cik component and dashes, e.g. '0001193125-15-118890'.
func (a AccessionNumber) String() string {
	return fmt.Sprintf("%010s-%s-%s", a.shortCik, a.year[2:4], a.sequence)
}

// NoDashes is the form used in archive directory paths.
func (a AccessionNumber) NoDashes() string {
	return strings.Replace(a.String(), "-", "", -1)
}

func (a AccessionNumber) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + a.String() + `"`), nil
}

func (a *AccessionNumber) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		*a = AccessionNumber{}
		return nil
	}
	parsed, err := ParseAccessionNumber(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
