package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/upload"
	"github.com/trezcool/kidogo/services/progress"
)

const (
	defaultUploadKind = "files"
	formKindField     = "kind"
)

// uploadKinds are the object path prefixes clients may upload to directly.
var uploadKinds = []string{
	defaultUploadKind,
	preschool.CollChildren,
	preschool.CollTeachers,
	preschool.CollEvents,
	preschool.CollDocuments,
	preschool.CollGallery,
}

func cleanUploadKind(kind string) (string, error) {
	kind = core.CleanString(kind, true /* lower */)
	if kind == "" {
		return defaultUploadKind, nil
	}
	if !core.ContainsString(uploadKinds, kind) {
		return "", core.NewValidationError(nil, core.FieldError{Field: formKindField, Error: "unknown upload kind"})
	}
	return kind, nil
}

type uploadApi struct {
	uploads       *upload.Manager
	hub           *progress.Hub
	sessions      SessionStore
	maxUploadSize int64
}

func registerUploadAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth *authenticator,
	uploads *upload.Manager,
	hub *progress.Hub,
	sessions SessionStore,
	tus *tusUploads,
) {
	api := uploadApi{
		uploads:       uploads,
		hub:           hub,
		sessions:      sessions,
		maxUploadSize: auth.conf.Storage.MaxUploadSize,
	}

	ug := g.Group("/uploads")

	// browsers cannot set headers on WebSocket requests
	wsJWT := middleware.JWTWithConfig(auth.jwtConfig("query:token"))
	ug.GET("/:id/ws", api.watch, wsJWT)

	ug.POST("", api.create, jwt, bodyLimit(api.maxUploadSize))
	ug.GET("/:id", api.retrieve, jwt)

	tus.register(ug.Group("/tus", jwt))
}

// create stores the "file" part of a multipart request under the given "kind".
func (api *uploadApi) create(ctx echo.Context) error {
	if !isMultipart(ctx) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "expected a multipart form")
	}
	kind, err := cleanUploadKind(ctx.FormValue(formKindField))
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	id, err := uploadSessionID(ctx)
	if err != nil {
		return err
	}
	if err = api.claim(ctx, id, claims.Subject); err != nil {
		return err
	}
	f, closeFile, err := bindFile(ctx, api.maxUploadSize)
	if err != nil {
		return err
	}
	defer closeFile()
	if f == nil {
		return core.NewValidationError(nil, core.FieldError{Field: formFileField, Error: "this field is required"})
	}

	sess, ok := api.uploads.Upload(ctx.Request().Context(), id, claims.Subject, kind, *f)
	if !ok {
		return preschool.ErrUploadFailed
	}
	return ctx.JSON(http.StatusCreated, sess)
}

// session returns the latest known state of an upload, from this process or the shared session store.
func (api *uploadApi) session(ctx echo.Context, id string) (upload.Session, error) {
	if sess, ok := api.uploads.Session(id); ok {
		return sess, nil
	}
	if api.sessions == nil {
		return upload.Session{}, progress.ErrNotFound
	}
	return api.sessions.Get(ctx.Request().Context(), id)
}

// claim reserves a client-chosen session ID for ownerID. IDs used by another user, in this process
// or in the shared session store, are rejected.
func (api *uploadApi) claim(ctx echo.Context, id, ownerID string) error {
	if id == "" {
		return nil
	}
	taken := core.NewValidationError(nil, core.FieldError{Field: formUploadIDField, Error: "this upload ID is already in use"})

	if _, known := api.uploads.Session(id); !known && api.sessions != nil {
		sess, err := api.sessions.Get(ctx.Request().Context(), id)
		switch errors.Cause(err) {
		case nil:
			if sess.OwnerID != ownerID {
				return taken
			}
		case progress.ErrNotFound:
		default:
			return errors.Wrap(err, "finding upload session")
		}
	}
	if err := api.uploads.Claim(id, ownerID); err != nil {
		if errors.Cause(err) == upload.ErrSessionTaken {
			return taken
		}
		return err
	}
	return nil
}

// canSee reports whether the authenticated user may follow sess: its owner and admins can.
func canSee(claims Claims, sess upload.Session) bool {
	return claims.IsAdmin || sess.OwnerID == claims.Subject
}

func (api *uploadApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	sess, err := api.session(ctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding upload session")
	}
	if !canSee(claims, sess) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, sess)
}

// watch streams the progress of an upload over a WebSocket.
// Unknown sessions can be watched too: clients may connect before the upload starts.
// Sessions of other users are hidden.
func (api *uploadApi) watch(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	id := ctx.Param("id")

	var current *upload.Session
	sess, err := api.session(ctx, id)
	switch errors.Cause(err) {
	case nil:
		if !canSee(claims, sess) {
			return errHttpNotFound
		}
		current = &sess
	case progress.ErrNotFound:
		// reserved for the watcher, who is about to upload
		if err = api.uploads.Claim(id, claims.Subject); err != nil {
			return errHttpNotFound
		}
	default:
		return errors.Wrap(err, "finding upload session")
	}

	if err = api.hub.ServeWS(ctx.Response(), ctx.Request(), id, current); err != nil {
		if ctx.Response().Committed {
			return nil // the upgrader replied already
		}
		return errors.Wrap(err, "serving websocket")
	}
	return nil
}
