package jobs

import "time"

// Stages in pipeline order. A job's stage only moves forward along this
// ordering; failed is reachable from any non-terminal stage.
const (
	StageCreated           = "created"
	StageSummaryDone       = "summary_done"
	StageArtifactsDone     = "artifacts_done"
	StageHeroImageDone     = "hero_image_done"
	StageSectionImagesDone = "section_images_done"
	StageCompleted         = "completed"
	StageFailed            = "failed"
)

var stageOrder = map[string]int{
	StageCreated:           0,
	StageSummaryDone:       1,
	StageArtifactsDone:     2,
	StageHeroImageDone:     3,
	StageSectionImagesDone: 4,
	StageCompleted:         5,
}

// StageRank returns the stage's position in the pipeline ordering. StageFailed
// has no rank; it is a terminal side-exit.
func StageRank(stage string) (int, bool) {
	rank, ok := stageOrder[stage]
	return rank, ok
}

// Terminal reports whether the stage ends the job's lifecycle.
func Terminal(stage string) bool {
	return stage == StageCompleted || stage == StageFailed
}

// Job represents one document's processing lifecycle. Identity is empty for
// anonymous submissions, which are never billed.
type Job struct {
	ID           string     `json:"id"`
	Identity     string     `json:"identity,omitempty"`
	Title        string     `json:"title"`
	DocumentKey  string     `json:"documentKey"`
	SectionCount int        `json:"sectionCount"`
	CostCredits  int        `json:"costCredits"`
	Stage        string     `json:"stage"`
	LastError    string     `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}
