// Package flow generates classroom content (story ideas, lesson plans, newsletter snippets and praise notes)
// with a generative text service.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	appfs "github.com/trezcool/kidogo/fs"
)

const promptsDir = "templates/prompts"

// Prompt names
const (
	PromptStoryIdeas = "story_ideas"
	PromptLessonPlan = "lesson_plan"
	PromptNewsletter = "newsletter"
	PromptPraiseNote = "praise_note"
)

type (
	Prompt struct {
		System string
		User   string
	}

	// Generator completes a Prompt with a JSON document.
	// Implementations return *Error for the failures they can classify.
	Generator interface {
		Generate(ctx context.Context, p Prompt) (string, error)
	}

	Service struct {
		gen      Generator
		validate *validator.Validate
		prompts  map[string]*template.Template
	}

	cleaner interface {
		Clean()
	}
)

func NewService(gen Generator, validate *validator.Validate) (*Service, error) {
	prompts, err := parsePrompts()
	if err != nil {
		return nil, err
	}
	return &Service{gen: gen, validate: validate, prompts: prompts}, nil
}

func parsePrompts() (map[string]*template.Template, error) {
	funcs := template.FuncMap{"join": strings.Join}
	prompts := make(map[string]*template.Template)
	for _, name := range []string{PromptStoryIdeas, PromptLessonPlan, PromptNewsletter, PromptPraiseNote} {
		file := path.Join(promptsDir, name+".tmpl")
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(appfs.FS, file)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", file)
		}
		prompts[name] = tmpl
	}
	return prompts, nil
}

func (svc *Service) render(name string, data interface{}) (Prompt, error) {
	tmpl, ok := svc.prompts[name]
	if !ok {
		return Prompt{}, errors.Errorf("unknown prompt %q", name)
	}
	var system, user bytes.Buffer
	if err := tmpl.ExecuteTemplate(&system, "system", data); err != nil {
		return Prompt{}, errors.Wrapf(err, "rendering %s system prompt", name)
	}
	if err := tmpl.ExecuteTemplate(&user, "user", data); err != nil {
		return Prompt{}, errors.Wrapf(err, "rendering %s user prompt", name)
	}
	return Prompt{System: strings.TrimSpace(system.String()), User: strings.TrimSpace(user.String())}, nil
}

// run validates in, renders the named prompt and decodes the generated JSON into out.
// Input validation errors are returned as is; every other failure is an *Error.
func (svc *Service) run(ctx context.Context, name string, in cleaner, out interface{}) error {
	in.Clean()
	if err := svc.validate.Struct(in); err != nil {
		return err
	}

	prompt, err := svc.render(name, in)
	if err != nil {
		return NewError(KindUnavailable, err)
	}

	text, err := svc.gen.Generate(ctx, prompt)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return fe
		}
		return NewError(KindUnavailable, err)
	}

	if err = json.Unmarshal([]byte(extractJSON(text)), out); err != nil {
		return NewError(KindInvalidOutput, errors.Wrap(err, "decoding generated content"))
	}
	if err = svc.validate.Struct(out); err != nil {
		return NewError(KindInvalidOutput, errors.Wrap(err, "validating generated content"))
	}
	return nil
}

// extractJSON strips markdown code fences and any text around the outermost JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func (svc *Service) StoryIdeas(ctx context.Context, in StoryIdeasInput) (StoryIdeasOutput, error) {
	var out StoryIdeasOutput
	if err := svc.run(ctx, PromptStoryIdeas, &in, &out); err != nil {
		return StoryIdeasOutput{}, err
	}
	if len(out.Ideas) > in.Count {
		out.Ideas = out.Ideas[:in.Count]
	}
	return out, nil
}

func (svc *Service) LessonPlan(ctx context.Context, in LessonPlanInput) (LessonPlanOutput, error) {
	var out LessonPlanOutput
	if err := svc.run(ctx, PromptLessonPlan, &in, &out); err != nil {
		return LessonPlanOutput{}, err
	}
	if total := out.TotalMinutes(); total > in.DurationMinutes {
		return LessonPlanOutput{}, NewError(KindInvalidOutput,
			errors.Errorf("activities last %d minutes, more than the %d planned", total, in.DurationMinutes))
	}
	return out, nil
}

func (svc *Service) NewsletterSnippet(ctx context.Context, in NewsletterInput) (NewsletterOutput, error) {
	var out NewsletterOutput
	if err := svc.run(ctx, PromptNewsletter, &in, &out); err != nil {
		return NewsletterOutput{}, err
	}
	return out, nil
}

func (svc *Service) PraiseNote(ctx context.Context, in PraiseNoteInput) (PraiseNoteOutput, error) {
	var out PraiseNoteOutput
	if err := svc.run(ctx, PromptPraiseNote, &in, &out); err != nil {
		return PraiseNoteOutput{}, err
	}
	return out, nil
}
