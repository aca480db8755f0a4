package model

// FallbackImportance is used for memory types missing from a profile.
const FallbackImportance = 0.5

// ImportanceProfile maps memory types to the importance a record receives
// when the writer does not supply one.
type ImportanceProfile map[MemoryType]float64

// DefaultImportanceProfile returns the built-in per-type defaults.
func DefaultImportanceProfile() ImportanceProfile {
	return ImportanceProfile{
		TypeIdentity:    1.0,
		TypeGoal:        0.9,
		TypeDecision:    0.85,
		TypeTodo:        0.8,
		TypePreference:  0.7,
		TypeFact:        0.65,
		TypeEvent:       0.55,
		TypeObservation: 0.3,
	}
}

// For returns the default importance for t.
func (p ImportanceProfile) For(t MemoryType) float64 {
	if v, ok := p[t]; ok {
		return v
	}
	return FallbackImportance
}
