package artifacts

import "time"

// Artifact kinds, one per generated output. Section images also carry a
// section index.
const (
	KindSummary      = "summary"
	KindKeyPoints    = "key_points"
	KindGlossary     = "glossary"
	KindHeroImage    = "hero_image"
	KindSectionImage = "section_image"
)

// Artifact is one generated output row. Rows are written as each stage
// commits and are never rolled back on later failures; the retry driver
// derives the resume point from their existence.
type Artifact struct {
	ID         string    `json:"id"`
	JobID      string    `json:"jobId"`
	Kind       string    `json:"kind"`
	Section    int       `json:"section,omitempty"`
	Content    string    `json:"content,omitempty"`
	URL        string    `json:"url,omitempty"`
	TokensUsed int       `json:"tokensUsed,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
