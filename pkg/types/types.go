// Package types defines the core data structures for the Riya memory engine.
// These types represent four-layer memories, the per-user knowledge graph,
// metric timelines, relationship depth and proactive engagement triggers.
package types

// LifeArea classifies which part of the user's life a memory belongs to.
type LifeArea string

// Life area constants
const (
	LifeAreaRelationship LifeArea = "relationship"
	LifeAreaCareer       LifeArea = "career"
	LifeAreaFamily       LifeArea = "family"
	LifeAreaHealth       LifeArea = "health"
	LifeAreaGrowth       LifeArea = "growth"
	LifeAreaFinance      LifeArea = "finance"
	LifeAreaHobby        LifeArea = "hobby"
)

// ValidLifeAreas contains all valid life area values.
var ValidLifeAreas = []LifeArea{
	LifeAreaRelationship,
	LifeAreaCareer,
	LifeAreaFamily,
	LifeAreaHealth,
	LifeAreaGrowth,
	LifeAreaFinance,
	LifeAreaHobby,
}

// IsValid reports whether a is one of the known life areas.
func (a LifeArea) IsValid() bool {
	for _, v := range ValidLifeAreas {
		if a == v {
			return true
		}
	}
	return false
}

// Significance grades how much a memory matters to the user.
type Significance string

// Significance constants, ordered from least to most significant.
const (
	SignificanceMinor        Significance = "minor"
	SignificanceModerate     Significance = "moderate"
	SignificanceMajor        Significance = "major"
	SignificanceLifeChanging Significance = "life_changing"
)

// IsValid reports whether s is a known significance grade.
func (s Significance) IsValid() bool {
	switch s {
	case SignificanceMinor, SignificanceModerate, SignificanceMajor, SignificanceLifeChanging:
		return true
	}
	return false
}

// AtLeast reports whether s is at or above other on the significance scale.
func (s Significance) AtLeast(other Significance) bool {
	return significanceRank(s) >= significanceRank(other)
}

func significanceRank(s Significance) int {
	switch s {
	case SignificanceMinor:
		return 1
	case SignificanceModerate:
		return 2
	case SignificanceMajor:
		return 3
	case SignificanceLifeChanging:
		return 4
	}
	return 0
}

// VerificationStatus is the trust state of a memory.
type VerificationStatus string

// Verification status constants
const (
	// VerificationNotVerified is the initial state of every extracted memory.
	VerificationNotVerified VerificationStatus = "not_verified"

	// VerificationInferred is set by automatic scoring (overall confidence > 60).
	VerificationInferred VerificationStatus = "inferred"

	// VerificationHighConfidence is set by automatic scoring (overall confidence > 80).
	VerificationHighConfidence VerificationStatus = "high_confidence"

	// VerificationUserConfirmed is set only when the user affirms the memory.
	VerificationUserConfirmed VerificationStatus = "user_confirmed"

	// VerificationDisputed is set only when the user rejects the memory.
	VerificationDisputed VerificationStatus = "disputed"
)

// IsValid reports whether v is a known verification status.
func (v VerificationStatus) IsValid() bool {
	switch v {
	case VerificationNotVerified, VerificationInferred, VerificationHighConfidence,
		VerificationUserConfirmed, VerificationDisputed:
		return true
	}
	return false
}

// IsHumanSet reports whether the status was set by the user. Human-set
// statuses are never overwritten by automatic rescoring.
func (v VerificationStatus) IsHumanSet() bool {
	return v == VerificationUserConfirmed || v == VerificationDisputed
}

// HumanSetStatuses lists the statuses that automatic scoring must not replace.
var HumanSetStatuses = []VerificationStatus{VerificationUserConfirmed, VerificationDisputed}
