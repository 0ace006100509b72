package jobs

import (
	"context"

	"docbrief-backend/internal/artifacts"
)

// resumePoint records which pipeline outputs already exist for a job. It is
// derived from the artifact rows rather than the stored stage so that a crash
// between saving an output and advancing the stage never repeats paid work.
type resumePoint struct {
	hasSummary     bool
	hasKeyPoints   bool
	hasGlossary    bool
	hasHero        bool
	sectionsImaged map[int]bool
}

func deriveResumePoint(ctx context.Context, repo artifacts.Repo, jobID string) (resumePoint, error) {
	rp := resumePoint{sectionsImaged: map[int]bool{}}
	rows, err := repo.ListByJob(ctx, jobID)
	if err != nil {
		return rp, err
	}
	for _, a := range rows {
		switch a.Kind {
		case artifacts.KindSummary:
			rp.hasSummary = true
		case artifacts.KindKeyPoints:
			rp.hasKeyPoints = true
		case artifacts.KindGlossary:
			rp.hasGlossary = true
		case artifacts.KindHeroImage:
			rp.hasHero = true
		case artifacts.KindSectionImage:
			rp.sectionsImaged[a.Section] = true
		}
	}
	return rp, nil
}

func (rp resumePoint) hasDerived() bool {
	return rp.hasKeyPoints && rp.hasGlossary
}
