package model

import (
	"encoding/json"
	"fmt"
)

// MergeConflict describes one key on which source and target disagreed.
type MergeConflict struct {
	Subject     string          `json:"subject"`
	Predicate   string          `json:"predicate"`
	SourceValue json.RawMessage `json:"source_value"`
	TargetValue json.RawMessage `json:"target_value"`
	Resolution  string          `json:"resolution"`
	RuleID      string          `json:"rule_id"`
}

// MergeReport is the outcome of merging one branch into another.
type MergeReport struct {
	Source          string          `json:"source"`
	Target          string          `json:"target"`
	Strategy        MergeStrategy   `json:"strategy"`
	ResolvedCount   int             `json:"resolved_count"`
	Conflicts       []MergeConflict `json:"conflicts"`
	UnresolvedCount int             `json:"unresolved_count"`
	Unresolved      []MergeConflict `json:"unresolved"`
}

// Merge resolution labels.
const (
	ResolutionOurs       = "ours"
	ResolutionTheirs     = "theirs"
	ResolutionUnresolved = "unresolved"
)

// ParseStrategy validates a strategy name. Empty input yields manual.
func ParseStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(s) {
	case "":
		return StrategyManual, nil
	case StrategyOurs, StrategyTheirs, StrategyManual:
		return MergeStrategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown merge strategy %q", ErrInvalidArgument, s)
}
