package flow

import "github.com/trezcool/kidogo/core"

// Tones
const (
	ToneWarm    = "warm"
	ToneFormal  = "formal"
	TonePlayful = "playful"
)

const defaultAgeGroup = "3-5"

type (
	StoryIdeasInput struct {
		Theme    string   `json:"theme" validate:"required,notblank,max=200"`
		AgeGroup string   `json:"age_group" validate:"max=20"`
		Count    int      `json:"count" validate:"min=0,max=10"`
		Keywords []string `json:"keywords" validate:"max=10,dive,max=50"`
	}

	StoryIdea struct {
		Title   string `json:"title" validate:"required,notblank"`
		Summary string `json:"summary" validate:"required,notblank"`
		Moral   string `json:"moral"`
	}

	StoryIdeasOutput struct {
		Ideas []StoryIdea `json:"ideas" validate:"required,min=1,dive"`
	}
)

func (in *StoryIdeasInput) Clean() {
	in.Theme = core.CleanString(in.Theme)
	in.AgeGroup = core.CleanString(in.AgeGroup)
	if in.AgeGroup == "" {
		in.AgeGroup = defaultAgeGroup
	}
	if in.Count == 0 {
		in.Count = 3
	}
	in.Keywords = core.CleanStrings(in.Keywords)
}

type (
	LessonPlanInput struct {
		Topic           string   `json:"topic" validate:"required,notblank,max=200"`
		AgeGroup        string   `json:"age_group" validate:"max=20"`
		DurationMinutes int      `json:"duration_minutes" validate:"min=0,max=240"`
		Objectives      []string `json:"objectives" validate:"max=10,dive,max=200"`
	}

	Activity struct {
		Name        string `json:"name" validate:"required,notblank"`
		Minutes     int    `json:"minutes" validate:"min=1"`
		Description string `json:"description" validate:"required,notblank"`
	}

	LessonPlanOutput struct {
		Title      string     `json:"title" validate:"required,notblank"`
		Objectives []string   `json:"objectives" validate:"required,min=1"`
		Materials  []string   `json:"materials"`
		Activities []Activity `json:"activities" validate:"required,min=1,dive"`
		Assessment string     `json:"assessment"`
	}
)

func (in *LessonPlanInput) Clean() {
	in.Topic = core.CleanString(in.Topic)
	in.AgeGroup = core.CleanString(in.AgeGroup)
	if in.AgeGroup == "" {
		in.AgeGroup = defaultAgeGroup
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = 30
	}
	in.Objectives = core.CleanStrings(in.Objectives)
}

// TotalMinutes sums the activity durations.
func (out *LessonPlanOutput) TotalMinutes() int {
	var total int
	for _, a := range out.Activities {
		total += a.Minutes
	}
	return total
}

type (
	NewsletterInput struct {
		ClassName  string   `json:"class_name" validate:"max=100"`
		Highlights []string `json:"highlights" validate:"required,min=1,max=10,dive,max=300"`
		Tone       string   `json:"tone" validate:"oneof=warm formal playful"`
	}

	NewsletterOutput struct {
		Headline string `json:"headline" validate:"required,notblank"`
		Body     string `json:"body" validate:"required,notblank"`
	}
)

func (in *NewsletterInput) Clean() {
	in.ClassName = core.CleanString(in.ClassName)
	in.Highlights = core.CleanStrings(in.Highlights)
	in.Tone = core.CleanString(in.Tone, true /* lower */)
	if in.Tone == "" {
		in.Tone = ToneWarm
	}
}

type (
	PraiseNoteInput struct {
		ChildName   string `json:"child_name" validate:"required,notblank,max=100"`
		Achievement string `json:"achievement" validate:"required,notblank,max=300"`
		Tone        string `json:"tone" validate:"oneof=warm formal playful"`
	}

	PraiseNoteOutput struct {
		Note string `json:"note" validate:"required,notblank"`
	}
)

func (in *PraiseNoteInput) Clean() {
	in.ChildName = core.CleanString(in.ChildName)
	in.Achievement = core.CleanString(in.Achievement)
	in.Tone = core.CleanString(in.Tone, true /* lower */)
	if in.Tone == "" {
		in.Tone = ToneWarm
	}
}
