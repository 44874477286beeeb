package preschool

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/docstore"
	"github.com/trezcool/kidogo/core/upload"
)

// Attachment is a file sent along with a record. SessionID optionally names the upload session
// so that clients can follow its progress.
type Attachment struct {
	SessionID string
	OwnerID   string // user uploading the file
	File      upload.File
}

// attachable is implemented by entities carrying one uploaded object.
type attachable interface {
	attachmentPath() string
	setAttachment(s upload.Session)
}

func (c *Child) attachmentPath() string          { return c.PhotoPath }
func (c *Child) setAttachment(s upload.Session)  { c.PhotoURL, c.PhotoPath = s.URL, s.Path }
func (t *Teacher) attachmentPath() string        { return t.PhotoPath }
func (t *Teacher) setAttachment(s upload.Session) { t.PhotoURL, t.PhotoPath = s.URL, s.Path }
func (e *Event) attachmentPath() string          { return e.ImagePath }
func (e *Event) setAttachment(s upload.Session)  { e.ImageURL, e.ImagePath = s.URL, s.Path }
func (g *GalleryImage) attachmentPath() string   { return g.ImagePath }
func (g *GalleryImage) setAttachment(s upload.Session) {
	g.ImageURL, g.ImagePath = s.URL, s.Path
}
func (d *Document) attachmentPath() string { return d.FilePath }
func (d *Document) setAttachment(s upload.Session) {
	d.FileURL, d.FilePath, d.FileName = s.URL, s.Path, s.FileName
}

// encode converts v into a Record without the fields managed by the store.
func encode(v interface{}) (docstore.Record, error) {
	rec, err := docstore.Encode(v)
	if err != nil {
		return nil, err
	}
	delete(rec, docstore.FieldID)
	delete(rec, docstore.FieldCreatedAt)
	delete(rec, docstore.FieldUpdatedAt)
	return rec, nil
}

func (svc *Service) get(ctx context.Context, collection, id string, out interface{}) error {
	rec, err := svc.store.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	return docstore.Decode(rec, out)
}

func listAs[T any](ctx context.Context, store docstore.Store, collection string, q docstore.Query) ([]T, error) {
	recs, err := store.List(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(recs))
	for _, rec := range recs {
		var item T
		if err := docstore.Decode(rec, &item); err != nil {
			return nil, errors.Wrapf(err, "decoding %s/%s", collection, rec.ID())
		}
		items = append(items, item)
	}
	return items, nil
}

// save adds (empty id) or updates the record for v. When att is given it is uploaded first;
// an absent locator aborts the save with ErrUploadFailed. A replaced object is removed once the record is saved.
func (svc *Service) save(ctx context.Context, collection, id string, v interface{}, att *Attachment) (string, error) {
	var oldPath, newPath string
	if att != nil {
		a, ok := v.(attachable)
		if !ok {
			return "", errors.Errorf("%s records take no attachment", collection)
		}
		oldPath = a.attachmentPath()

		if err := svc.uploads.Claim(att.SessionID, att.OwnerID); err != nil {
			return "", core.NewValidationError(nil, core.FieldError{Field: "upload_id", Error: err.Error()})
		}
		sess, ok := svc.uploads.Upload(ctx, att.SessionID, att.OwnerID, collection, att.File)
		if !ok {
			return "", ErrUploadFailed
		}
		a.setAttachment(sess)
		newPath = sess.Path
	}

	rec, err := encode(v)
	if err == nil {
		if id == "" {
			id, err = svc.store.Add(ctx, collection, rec)
		} else {
			err = svc.store.Update(ctx, collection, id, rec)
		}
	}
	if err != nil {
		svc.removeObject(ctx, newPath)
		return "", err
	}

	if oldPath != "" && oldPath != newPath {
		svc.removeObject(ctx, oldPath)
	}
	return id, nil
}

// removeObject deletes an uploaded object, logging failures.
func (svc *Service) removeObject(ctx context.Context, objectPath string) {
	if err := svc.uploads.Delete(ctx, objectPath); err != nil {
		svc.logger.Error("removing object "+objectPath, err)
	}
}

// remove deletes a record and then its attachment.
func (svc *Service) remove(ctx context.Context, collection, id string, v interface{}) error {
	if err := svc.store.Delete(ctx, collection, id); err != nil {
		return err
	}
	if a, ok := v.(attachable); ok {
		if p := a.attachmentPath(); p != "" {
			svc.removeObject(ctx, p)
		}
	}
	return nil
}
