package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/preschool"
	"github.com/trezcool/kidogo/core/upload"
)

const (
	orderingParam = "ordering"

	// multipart form fields
	formDataField     = "data"
	formFileField     = "file"
	formUploadIDField = "upload_id"

	headerUploadID = "X-Upload-ID"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	ord.Orderings = core.ParseOrdering(val[0])
}

func isMultipart(ctx echo.Context) bool {
	return strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// bindBody binds a JSON body into v. Multipart requests carry the JSON document in their "data" field.
func bindBody(ctx echo.Context, v interface{}) error {
	if !isMultipart(ctx) {
		return ctx.Bind(v)
	}
	data := ctx.FormValue(formDataField)
	if strings.TrimSpace(data) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid "+formDataField+" field").SetInternal(err)
	}
	return nil
}

// uploadSessionID returns the client-chosen upload session ID, so that progress can be watched
// before the request completes. Empty means a random ID will be used.
func uploadSessionID(ctx echo.Context) (string, error) {
	id := ctx.Request().Header.Get(headerUploadID)
	if id == "" && isMultipart(ctx) {
		id = ctx.FormValue(formUploadIDField)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", core.NewValidationError(nil, core.FieldError{Field: formUploadIDField, Error: "must be a valid UUID"})
	}
	return id, nil
}

// bindFile opens the file part of a multipart request. It returns a nil File when the part is absent.
// The returned close func must be called once the file has been consumed.
func bindFile(ctx echo.Context, maxSize int64) (*upload.File, func(), error) {
	nop := func() {}
	if !isMultipart(ctx) {
		return nil, nop, nil
	}

	fh, err := ctx.FormFile(formFileField)
	if err != nil {
		if errors.Cause(err) == http.ErrMissingFile {
			return nil, nop, nil
		}
		return nil, nop, echo.NewHTTPError(http.StatusBadRequest, "invalid "+formFileField+" field").SetInternal(err)
	}
	if fh.Size > maxSize {
		return nil, nop, core.NewValidationError(nil, core.FieldError{
			Field: formFileField,
			Error: fmt.Sprintf("%s must be at most %d bytes", formFileField, maxSize),
		})
	}

	src, err := fh.Open()
	if err != nil {
		return nil, nop, errors.Wrap(err, "opening form file")
	}
	f := &upload.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        src,
	}
	return f, func() { _ = src.Close() }, nil
}

// bindAttachment combines bindFile and uploadSessionID for record endpoints.
func bindAttachment(ctx echo.Context, maxSize int64) (*preschool.Attachment, func(), error) {
	f, closeFile, err := bindFile(ctx, maxSize)
	if err != nil || f == nil {
		return nil, closeFile, err
	}
	id, err := uploadSessionID(ctx)
	if err != nil {
		closeFile()
		return nil, func() {}, err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		closeFile()
		return nil, func() {}, errors.Wrap(err, "getting context claims")
	}
	return &preschool.Attachment{SessionID: id, OwnerID: claims.Subject, File: *f}, closeFile, nil
}
