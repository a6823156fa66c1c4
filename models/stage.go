package models

import (
	"fmt"
	"strings"
)

// Stage is one ordered phase of the hierarchical crawl.
type Stage int

const (
	FromReference Stage = iota
	FromModels
	FromYears
	FromPrices
)

var stageNames = map[Stage]string{
	FromReference: "FromReference",
	FromModels:    "FromModels",
	FromYears:     "FromYears",
	FromPrices:    "FromPrices",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Covers reports whether a run starting at s executes stage other.
func (s Stage) Covers(other Stage) bool { return s <= other }

// ParseStage accepts a stage name ("FromModels") or its short form ("models").
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "From")) {
	case "reference":
		return FromReference, nil
	case "models":
		return FromModels, nil
	case "years":
		return FromYears, nil
	case "prices":
		return FromPrices, nil
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}
