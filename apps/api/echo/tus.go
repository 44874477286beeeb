package echoapi

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/tus/tusd/pkg/filestore"
	tusd "github.com/tus/tusd/pkg/handler"
	"github.com/tus/tusd/pkg/memorylocker"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

const tusBasePath = "/v1/uploads/tus/"

// tus upload metadata keys
const (
	tusMetaFilename = "filename"
	tusMetaFiletype = "filetype"
	tusMetaKind     = "kind"
	tusMetaOwner    = "owner" // set by the server
)

// tusUploads receives resumable uploads with the tus protocol on local disk.
// Completed uploads are transferred to the object store by an upload.Tracker
// whose session ID is the tus upload ID.
type tusUploads struct {
	handler *tusd.UnroutedHandler
	store   filestore.FileStore
	uploads *upload.Manager
	logger  core.Logger

	ctx      context.Context // cancelled to abort transfers
	cancel   context.CancelFunc
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func newTusUploads(conf *core.Config, uploads *upload.Manager, logger core.Logger) (*tusUploads, error) {
	if err := os.MkdirAll(conf.Storage.TusDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating tus upload dir")
	}

	store := filestore.New(conf.Storage.TusDir)
	locker := memorylocker.New()
	composer := tusd.NewStoreComposer()
	store.UseIn(composer)
	locker.UseIn(composer)

	h, err := tusd.NewUnroutedHandler(tusd.Config{
		StoreComposer:           composer,
		BasePath:                tusBasePath,
		MaxSize:                 conf.Storage.MaxUploadSize,
		NotifyCompleteUploads:   true,
		RespectForwardedHeaders: true,
		PreUploadCreateCallback: checkTusUpload,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating tus handler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &tusUploads{
		handler: h,
		store:   store,
		uploads: uploads,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
	}, nil
}

// checkTusUpload rejects uploads without a file name or with an unknown kind before any byte is received.
func checkTusUpload(hook tusd.HookEvent) error {
	meta := hook.Upload.MetaData
	if core.CleanString(meta[tusMetaFilename]) == "" {
		return tusd.NewHTTPError(errors.New("missing filename metadata"), http.StatusBadRequest)
	}
	if _, err := cleanUploadKind(meta[tusMetaKind]); err != nil {
		return tusd.NewHTTPError(errors.New("unknown upload kind"), http.StatusBadRequest)
	}
	return nil
}

func (t *tusUploads) register(g *echo.Group) {
	g.Use(echo.WrapMiddleware(t.handler.Middleware))
	g.POST("", echo.WrapHandler(http.HandlerFunc(t.handler.PostFile)), setTusOwner)
	g.HEAD("/:id", echo.WrapHandler(http.HandlerFunc(t.handler.HeadFile)), t.ownerOnly)
	g.PATCH("/:id", echo.WrapHandler(http.HandlerFunc(t.handler.PatchFile)), t.ownerOnly)
	g.GET("/:id", echo.WrapHandler(http.HandlerFunc(t.handler.GetFile)), t.ownerOnly)
	g.DELETE("/:id", echo.WrapHandler(http.HandlerFunc(t.handler.DelFile)), t.ownerOnly)
}

// setTusOwner records the authenticated user in the metadata of new uploads, replacing any client value.
func setTusOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		req := ctx.Request()
		var pairs []string
		for _, pair := range strings.Split(req.Header.Get("Upload-Metadata"), ",") {
			fields := strings.Fields(pair)
			if len(fields) == 0 || fields[0] == tusMetaOwner {
				continue
			}
			pairs = append(pairs, strings.TrimSpace(pair))
		}
		pairs = append(pairs, tusMetaOwner+" "+base64.StdEncoding.EncodeToString([]byte(claims.Subject)))
		req.Header.Set("Upload-Metadata", strings.Join(pairs, ","))
		return next(ctx)
	}
}

// ownerOnly hides uploads started by other users, except from admins.
// Unknown uploads are left to the tus handler.
func (t *tusUploads) ownerOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		up, err := t.store.GetUpload(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			return next(ctx)
		}
		info, err := up.GetInfo(ctx.Request().Context())
		if err != nil {
			return next(ctx)
		}
		if !claims.IsAdmin && info.MetaData[tusMetaOwner] != claims.Subject {
			return errHttpNotFound
		}
		return next(ctx)
	}
}

// run hands completed uploads over to transfers until stop is called.
func (t *tusUploads) run() {
	for {
		select {
		case <-t.quit:
			return
		case ev := <-t.handler.CompleteUploads:
			t.wg.Add(1)
			go func(info tusd.FileInfo) {
				defer t.wg.Done()
				t.transfer(t.ctx, info)
			}(ev.Upload)
		}
	}
}

// transfer moves a completed tus upload to the object store and removes the local copy once stored.
func (t *tusUploads) transfer(ctx context.Context, info tusd.FileInfo) (upload.Session, bool) {
	extra := map[string]interface{}{"upload": info.ID}

	up, err := t.store.GetUpload(ctx, info.ID)
	if err != nil {
		t.logger.Error("finding tus upload", err, extra)
		return upload.Session{}, false
	}
	r, err := up.GetReader(ctx)
	if err != nil {
		t.logger.Error("reading tus upload", err, extra)
		return upload.Session{}, false
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}

	kind, _ := cleanUploadKind(info.MetaData[tusMetaKind])
	f := upload.File{
		Name:        core.CleanString(info.MetaData[tusMetaFilename]),
		ContentType: info.MetaData[tusMetaFiletype],
		Size:        info.Size,
		Body:        r,
	}
	sess, ok := t.uploads.Upload(ctx, info.ID, info.MetaData[tusMetaOwner], kind, f)
	if !ok {
		// TODO: retry transfers of the kept local copies on startup
		t.logger.Warn("transferring tus upload failed", extra)
		return sess, false
	}

	if err = t.store.AsTerminatableUpload(up).Terminate(context.Background()); err != nil {
		t.logger.Error("removing tus upload", err, extra)
	}
	return sess, true
}

// stop stops receiving completed uploads and waits for the running transfers.
// Transfers are cancelled when ctx expires first.
func (t *tusUploads) stop(ctx context.Context) error {
	t.quitOnce.Do(func() { close(t.quit) })

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		return errors.Wrap(ctx.Err(), "waiting for tus transfers")
	}
}

// abort stops receiving completed uploads and cancels the running transfers.
func (t *tusUploads) abort() {
	t.quitOnce.Do(func() { close(t.quit) })
	t.cancel()
}
