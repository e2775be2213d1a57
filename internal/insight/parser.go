package insight

import "strings"

const (
	concernsMarker        = "CONCERNS:"
	recommendationsMarker = "RECOMMENDATIONS:"

	formatErrorConcern      = "Format parsing error - full response stored"
	noRecommendationsText   = "No specific recommendations provided"
	generationErrorPrefix   = "Error generating insight: "
	generationErrorFallback = "Unable to generate recommendations due to error"
)

// Parse splits a completion into its concern and recommendation sections.
// Only the first CONCERNS: marker and the first RECOMMENDATIONS: marker after
// it are significant. Parse is total: text without the expected structure
// falls back to a fixed concern with the raw text kept as the recommendation.
func Parse(raw string) Record {
	_, afterConcerns, ok := strings.Cut(raw, concernsMarker)
	if !ok {
		return Record{
			Concern:        formatErrorConcern,
			Recommendation: raw,
		}
	}

	concern, recommendation, ok := strings.Cut(afterConcerns, recommendationsMarker)
	if !ok {
		return Record{
			Concern:        strings.TrimSpace(afterConcerns),
			Recommendation: noRecommendationsText,
		}
	}

	return Record{
		Concern:        strings.TrimSpace(concern),
		Recommendation: strings.TrimSpace(recommendation),
	}
}

// errorRecord is the degraded record stored for a table whose generation call
// failed. Parse itself never fails and has no error record.
func errorRecord(err error) Record {
	return Record{
		Concern:        generationErrorPrefix + err.Error(),
		Recommendation: generationErrorFallback,
	}
}
