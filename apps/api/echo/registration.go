package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core/preschool"
)

type registrationApi struct {
	svc      *preschool.Service
	validate *validator.Validate
}

func registerRegistrationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *preschool.Service,
	validate *validator.Validate,
) {
	api := registrationApi{svc: svc, validate: validate}

	rg := g.Group("/registrations")

	// un-authed endpoints
	// TODO: rate limit or captcha on public submissions
	rg.POST("", api.submit)

	// middleware is attached per route: a sub-group on "" would also catch the public POST
	admin := adminMiddleware()
	rg.GET("", api.query, jwt, admin)
	rg.GET("/:id", api.retrieve, jwt, admin)
	rg.POST("/:id/approve", api.approve, jwt, admin)
	rg.POST("/:id/reject", api.reject, jwt, admin)
}

func (api *registrationApi) submit(ctx echo.Context) error {
	var data preschool.Registration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Registration")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err := api.svc.SubmitRegistration(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "submitting registration")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *registrationApi) query(ctx echo.Context) error {
	var filter preschool.RegistrationFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to RegistrationFilter")
	}
	regs, err := api.svc.ListRegistrations(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing registrations")
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *registrationApi) retrieve(ctx echo.Context) error {
	r, err := api.svc.GetRegistration(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding registration")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *registrationApi) approve(ctx echo.Context) error {
	r, c, err := api.svc.ApproveRegistration(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "approving registration")
	}
	return ctx.JSON(http.StatusOK, ApprovalResponse{Registration: r, Child: c})
}

func (api *registrationApi) reject(ctx echo.Context) error {
	r, err := api.svc.RejectRegistration(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "rejecting registration")
	}
	return ctx.JSON(http.StatusOK, r)
}

type ApprovalResponse struct {
	Registration preschool.Registration `json:"registration"`
	Child        preschool.Child        `json:"child"`
}
