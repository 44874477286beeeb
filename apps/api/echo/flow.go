package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core/flow"
)

type flowApi struct {
	svc *flow.Service
}

func registerFlowAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *flow.Service) {
	api := flowApi{svc: svc}

	fg := g.Group("/flows", jwt, staffMiddleware())
	fg.POST("/story-ideas", api.storyIdeas)
	fg.POST("/lesson-plan", api.lessonPlan)
	fg.POST("/newsletter", api.newsletter)
	fg.POST("/praise-note", api.praiseNote)
}

// Flow inputs are validated by the flow.Service itself.

func (api *flowApi) storyIdeas(ctx echo.Context) error {
	var data flow.StoryIdeasInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StoryIdeasInput")
	}
	out, err := api.svc.StoryIdeas(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "generating story ideas")
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *flowApi) lessonPlan(ctx echo.Context) error {
	var data flow.LessonPlanInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LessonPlanInput")
	}
	out, err := api.svc.LessonPlan(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "generating lesson plan")
	}
	return ctx.JSON(http.StatusOK, LessonPlanResponse{LessonPlanOutput: out, TotalMinutes: out.TotalMinutes()})
}

func (api *flowApi) newsletter(ctx echo.Context) error {
	var data flow.NewsletterInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewsletterInput")
	}
	out, err := api.svc.NewsletterSnippet(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "generating newsletter snippet")
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *flowApi) praiseNote(ctx echo.Context) error {
	var data flow.PraiseNoteInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PraiseNoteInput")
	}
	out, err := api.svc.PraiseNote(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "generating praise note")
	}
	return ctx.JSON(http.StatusOK, out)
}

type LessonPlanResponse struct {
	flow.LessonPlanOutput
	TotalMinutes int `json:"total_minutes"`
}
