package secret

import "strings"

var (
	criticalMarkers = []string{"DATABASE", "MASTER", "ROOT", "ADMIN"}
	highMarkers     = []string{"API_KEY", "PASSWORD", "TOKEN", "SECRET"}
)

// InferClassification derives a classification from naming conventions.
// Markers are checked from most to least sensitive; the first hit wins.
func InferClassification(name string) Classification {
	upper := strings.ToUpper(name)
	if containsAny(upper, criticalMarkers) {
		return ClassificationCritical
	}
	if containsAny(upper, highMarkers) {
		return ClassificationHigh
	}
	if strings.Contains(upper, "PROD") {
		return ClassificationModerate
	}
	return ClassificationLow
}

// InferEnvironment derives an environment from naming conventions.
func InferEnvironment(name string) Environment {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "PROD"):
		return EnvironmentProduction
	case strings.Contains(upper, "STAGING"), strings.Contains(upper, "STG"):
		return EnvironmentStaging
	case strings.Contains(upper, "DEV"), strings.Contains(upper, "TEST"):
		return EnvironmentDevelopment
	default:
		return EnvironmentAll
	}
}

// DefaultRotationDays returns the rotation cadence assigned to a new secret
// of the given classification when none is supplied.
func DefaultRotationDays(c Classification) int {
	switch c {
	case ClassificationCritical, ClassificationHigh:
		return 30
	case ClassificationModerate:
		return 90
	case ClassificationLow:
		return 180
	default:
		return 90
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
