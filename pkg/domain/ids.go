package domain

import (
	"strconv"
	"strings"

	dErrors "basenet/pkg/domain-errors"
)

// NodeID identifies a persisted base-network node.
type NodeID int64

// EdgeID identifies a persisted base-network edge.
type EdgeID int64

// FeatureID is the stable id of a feature in the external import source.
// It survives geometry changes upstream and is the key of the feature↔edge mapping.
type FeatureID string

func (id NodeID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id EdgeID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id FeatureID) String() string { return string(id) }

// IsZero reports whether the id was never assigned.
func (id NodeID) IsZero() bool { return id == 0 }

// IsZero reports whether the id was never assigned.
func (id EdgeID) IsZero() bool { return id == 0 }

// ParseEdgeID parses a positive decimal edge id.
func ParseEdgeID(s string) (EdgeID, error) {
	n, err := parsePositive(s)
	if err != nil {
		return 0, err
	}
	return EdgeID(n), nil
}

// ParseNodeID parses a positive decimal node id.
func ParseNodeID(s string) (NodeID, error) {
	n, err := parsePositive(s)
	if err != nil {
		return 0, err
	}
	return NodeID(n), nil
}

// ParseFeatureID trims and validates an external feature id.
func ParseFeatureID(s string) (FeatureID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "feature id must not be empty")
	}
	if len(s) > 256 {
		return "", dErrors.New(dErrors.CodeValidation, "feature id must be 256 characters or less")
	}
	return FeatureID(s), nil
}

func parsePositive(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeValidation, "invalid id")
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "id must be positive")
	}
	return n, nil
}
