package domain

// Severity bands for PHQ-9 total scores. Every component that derives a
// band uses SeverityBand; the thresholds must not be duplicated elsewhere.
const (
	SeverityMinimal          = "minimal"
	SeverityMild             = "mild"
	SeverityModerate         = "moderate"
	SeverityModeratelySevere = "moderately-severe"
	SeveritySevere           = "severe"
)

// SeverityBand maps a PHQ-9 total score to its severity band.
func SeverityBand(score int) string {
	switch {
	case score >= 20:
		return SeveritySevere
	case score >= 15:
		return SeverityModeratelySevere
	case score >= 10:
		return SeverityModerate
	case score >= 5:
		return SeverityMild
	default:
		return SeverityMinimal
	}
}
