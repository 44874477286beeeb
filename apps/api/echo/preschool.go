package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/docstore"
	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/user"
)

type preschoolApi struct {
	auth          *authenticator
	svc           *preschool.Service
	validate      *validator.Validate
	maxUploadSize int64
}

func registerPreschoolAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth *authenticator,
	svc *preschool.Service,
	validate *validator.Validate,
) {
	api := preschoolApi{
		auth:          auth,
		svc:           svc,
		validate:      validate,
		maxUploadSize: auth.conf.Storage.MaxUploadSize,
	}
	staff := staffMiddleware()
	admin := adminMiddleware()
	limit := bodyLimit(api.maxUploadSize)

	cg := g.Group("/children", jwt)
	cg.GET("", api.listChildren)
	cg.POST("", api.createChild, staff, limit)
	cg.GET("/:id", api.retrieveChild)
	cg.PUT("/:id", api.updateChild, staff, limit)
	cg.DELETE("/:id", api.destroyChild, staff)
	cg.POST("/:id/parents", api.linkParent, admin)

	pg := g.Group("/parents", jwt)
	pg.GET("/me", api.retrieveOwnParent)
	pg.GET("", api.listParents, staff)
	pg.POST("", api.createParent, admin)
	pg.GET("/:id", api.retrieveParent, staff)
	pg.PUT("/:id", api.updateParent, admin)
	pg.DELETE("/:id", api.destroyParent, admin)

	tg := g.Group("/teachers", jwt)
	tg.GET("", api.listTeachers)
	tg.POST("", api.createTeacher, admin, limit)
	tg.GET("/:id", api.retrieveTeacher)
	tg.PUT("/:id", api.updateTeacher, admin, limit)
	tg.DELETE("/:id", api.destroyTeacher, admin)

	eg := g.Group("/events", jwt)
	eg.GET("", api.listEvents)
	eg.POST("", api.createEvent, staff, limit)
	eg.GET("/:id", api.retrieveEvent)
	eg.PUT("/:id", api.updateEvent, staff, limit)
	eg.DELETE("/:id", api.destroyEvent, staff)

	dg := g.Group("/documents", jwt)
	dg.GET("", api.listDocuments)
	dg.POST("", api.createDocument, staff, limit)
	dg.GET("/:id", api.retrieveDocument)
	dg.PUT("/:id", api.updateDocument, staff, limit)
	dg.DELETE("/:id", api.destroyDocument, staff)

	gg := g.Group("/gallery", jwt)
	gg.GET("", api.listGallery)
	gg.POST("", api.addGalleryImage, staff, limit)
	gg.GET("/:id", api.retrieveGalleryImage)
	gg.PUT("/:id", api.updateGalleryImage, staff, limit)
	gg.DELETE("/:id", api.destroyGalleryImage, staff)
}

func (api *preschoolApi) contextUser(ctx echo.Context) (user.User, error) {
	usr, err := getContextUser(ctx, api.auth.svc)
	if err != nil {
		return user.User{}, errors.Wrap(err, "getting context user")
	}
	return usr, nil
}

// contextParent returns the parent record of the authenticated user.
func (api *preschoolApi) contextParent(ctx echo.Context) (preschool.Parent, error) {
	usr, err := api.contextUser(ctx)
	if err != nil {
		return preschool.Parent{}, err
	}
	p, err := api.svc.ParentByUserID(ctx.Request().Context(), usr.ID)
	if err != nil {
		if errors.Cause(err) == docstore.ErrNotFound {
			return preschool.Parent{}, errHttpNotFound
		}
		return preschool.Parent{}, errors.Wrap(err, "finding parent by user ID")
	}
	return p, nil
}

// Children

func (api *preschoolApi) listChildren(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var children []preschool.Child
	if claims.IsStaff() {
		var filter preschool.ChildFilter
		if err = ctx.Bind(&filter); err != nil {
			return errors.Wrap(err, "binding to ChildFilter")
		}
		children, err = api.svc.ListChildren(ctx.Request().Context(), filter)
	} else {
		var p preschool.Parent
		if p, err = api.contextParent(ctx); err != nil {
			if err == errHttpNotFound {
				return ctx.JSON(http.StatusOK, []preschool.Child{})
			}
			return err
		}
		children, err = api.svc.ChildrenOfParent(ctx.Request().Context(), p.ID)
	}
	if err != nil {
		return errors.Wrap(err, "listing children")
	}
	return ctx.JSON(http.StatusOK, children)
}

func (api *preschoolApi) createChild(ctx echo.Context) error {
	var data preschool.Child
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Child")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	c, err := api.svc.CreateChild(ctx.Request().Context(), data, att)
	if err != nil {
		return errors.Wrap(err, "creating child")
	}
	return ctx.JSON(http.StatusCreated, c)
}

// retrieveChild lets staff see every child and parents see their own children only.
func (api *preschoolApi) retrieveChild(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	c, err := api.svc.GetChild(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding child")
	}
	if !claims.IsStaff() {
		p, err := api.contextParent(ctx)
		if err != nil {
			return err
		}
		if !core.ContainsString(c.ParentIDs, p.ID) {
			return errHttpNotFound
		}
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *preschoolApi) updateChild(ctx echo.Context) error {
	var data preschool.Child
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Child")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	c, err := api.svc.UpdateChild(ctx.Request().Context(), ctx.Param("id"), data, att)
	if err != nil {
		return errors.Wrap(err, "updating child")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *preschoolApi) destroyChild(ctx echo.Context) error {
	if err := api.svc.DeleteChild(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting child")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *preschoolApi) linkParent(ctx echo.Context) error {
	var data LinkParentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LinkParentRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	c, err := api.svc.LinkParent(ctx.Request().Context(), ctx.Param("id"), data.ParentID)
	if err != nil {
		return errors.Wrap(err, "linking parent")
	}
	return ctx.JSON(http.StatusOK, c)
}

// Parents

func (api *preschoolApi) listParents(ctx echo.Context) error {
	parents, err := api.svc.ListParents(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing parents")
	}
	return ctx.JSON(http.StatusOK, parents)
}

func (api *preschoolApi) createParent(ctx echo.Context) error {
	var data preschool.Parent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Parent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.CreateParent(ctx.Request().Context(), data)
	if err != nil {
		if errors.Cause(err) == preschool.ErrParentAccountExists {
			return core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: err.Error()})
		}
		return errors.Wrap(err, "creating parent")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *preschoolApi) retrieveOwnParent(ctx echo.Context) error {
	p, err := api.contextParent(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *preschoolApi) retrieveParent(ctx echo.Context) error {
	p, err := api.svc.GetParent(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding parent")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *preschoolApi) updateParent(ctx echo.Context) error {
	var data preschool.Parent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Parent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.UpdateParent(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating parent")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *preschoolApi) destroyParent(ctx echo.Context) error {
	if err := api.svc.DeleteParent(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting parent")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Teachers

func (api *preschoolApi) listTeachers(ctx echo.Context) error {
	teachers, err := api.svc.ListTeachers(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing teachers")
	}
	return ctx.JSON(http.StatusOK, teachers)
}

func (api *preschoolApi) createTeacher(ctx echo.Context) error {
	var data preschool.Teacher
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Teacher")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	t, err := api.svc.CreateTeacher(ctx.Request().Context(), data, att)
	if err != nil {
		return errors.Wrap(err, "creating teacher")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *preschoolApi) retrieveTeacher(ctx echo.Context) error {
	t, err := api.svc.GetTeacher(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding teacher")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *preschoolApi) updateTeacher(ctx echo.Context) error {
	var data preschool.Teacher
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Teacher")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	t, err := api.svc.UpdateTeacher(ctx.Request().Context(), ctx.Param("id"), data, att)
	if err != nil {
		return errors.Wrap(err, "updating teacher")
	}
	return ctx.JSON(http.StatusOK, t)
}

func (api *preschoolApi) destroyTeacher(ctx echo.Context) error {
	if err := api.svc.DeleteTeacher(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting teacher")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Events

func (api *preschoolApi) listEvents(ctx echo.Context) error {
	upcoming, _ := strconv.ParseBool(ctx.QueryParam("upcoming"))
	events, err := api.svc.ListEvents(ctx.Request().Context(), upcoming)
	if err != nil {
		return errors.Wrap(err, "listing events")
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *preschoolApi) createEvent(ctx echo.Context) error {
	var data preschool.Event
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Event")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}
	data.CreatedBy = usr.ID

	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	e, err := api.svc.CreateEvent(ctx.Request().Context(), data, att)
	if err != nil {
		return errors.Wrap(err, "creating event")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *preschoolApi) retrieveEvent(ctx echo.Context) error {
	e, err := api.svc.GetEvent(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding event")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *preschoolApi) updateEvent(ctx echo.Context) error {
	var data preschool.Event
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Event")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	e, err := api.svc.UpdateEvent(ctx.Request().Context(), ctx.Param("id"), data, att)
	if err != nil {
		return errors.Wrap(err, "updating event")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *preschoolApi) destroyEvent(ctx echo.Context) error {
	if err := api.svc.DeleteEvent(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting event")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Documents

func (api *preschoolApi) listDocuments(ctx echo.Context) error {
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}
	docs, err := api.svc.ListDocuments(ctx.Request().Context(), usr, ctx.QueryParam("category"))
	if err != nil {
		return errors.Wrap(err, "listing documents")
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *preschoolApi) createDocument(ctx echo.Context) error {
	var data preschool.Document
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Document")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}
	data.CreatedBy = usr.ID

	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	d, err := api.svc.CreateDocument(ctx.Request().Context(), data, att)
	if err != nil {
		return errors.Wrap(err, "creating document")
	}
	return ctx.JSON(http.StatusCreated, d)
}

func (api *preschoolApi) retrieveDocument(ctx echo.Context) error {
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}
	d, err := api.svc.GetDocument(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding document")
	}
	if !d.VisibleTo(usr) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *preschoolApi) updateDocument(ctx echo.Context) error {
	var data preschool.Document
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to Document")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	d, err := api.svc.UpdateDocument(ctx.Request().Context(), ctx.Param("id"), data, att)
	if err != nil {
		return errors.Wrap(err, "updating document")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *preschoolApi) destroyDocument(ctx echo.Context) error {
	if err := api.svc.DeleteDocument(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Gallery

func (api *preschoolApi) listGallery(ctx echo.Context) error {
	var filter preschool.GalleryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to GalleryFilter")
	}
	images, err := api.svc.ListGallery(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing gallery")
	}
	return ctx.JSON(http.StatusOK, images)
}

func (api *preschoolApi) addGalleryImage(ctx echo.Context) error {
	var data preschool.GalleryImage
	if err := bindBody(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to GalleryImage")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}
	data.UploadedBy = usr.ID

	att, closeFile, err := bindAttachment(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()

	img, err := api.svc.AddGalleryImage(ctx.Request().Context(), data, att)
	if err != nil {
		return errors.Wrap(err, "adding gallery image")
	}
	return ctx.JSON(http.StatusCreated, img)
}

func (api *preschoolApi) retrieveGalleryImage(ctx echo.Context) error {
	img, err := api.svc.GetGalleryImage(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding gallery image")
	}
	return ctx.JSON(http.StatusOK, img)
}

func (api *preschoolApi) updateGalleryImage(ctx echo.Context) error {
	var data preschool.GalleryImage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GalleryImage")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	img, err := api.svc.UpdateGalleryImage(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating gallery image")
	}
	return ctx.JSON(http.StatusOK, img)
}

func (api *preschoolApi) destroyGalleryImage(ctx echo.Context) error {
	if err := api.svc.DeleteGalleryImage(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting gallery image")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type LinkParentRequest struct {
	ParentID string `json:"parent_id" validate:"required"`
}
