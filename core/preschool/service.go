// Package preschool manages the preschool records: children, parents, teachers, events, documents,
// gallery images and registrations.
package preschool

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/docstore"
	"github.com/trezcool/kidogo/core/upload"
	"github.com/trezcool/kidogo/core/user"
)

var (
	// errors
	ErrUploadFailed        = errors.New("upload failed")
	ErrRegistrationClosed  = errors.New("this registration has already been processed")
	ErrParentAccountExists = errors.New("this user already has a parent record")
)

type Service struct {
	store   docstore.Store
	uploads *upload.Manager
	users   user.ServiceInterface
	mailSvc core.EmailService
	logger  core.Logger
	now     func() time.Time
}

func NewService(store docstore.Store, uploads *upload.Manager, users user.ServiceInterface, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		store:   store,
		uploads: uploads,
		users:   users,
		mailSvc: mailSvc,
		logger:  logger,
		now:     time.Now,
	}
}

// Children

func (svc *Service) CreateChild(ctx context.Context, c Child, att *Attachment) (Child, error) {
	if err := svc.checkParents(ctx, c.ParentIDs); err != nil {
		return Child{}, err
	}
	id, err := svc.save(ctx, CollChildren, "", &c, att)
	if err != nil {
		return Child{}, errors.Wrap(err, "creating child")
	}
	for _, parentID := range c.ParentIDs {
		if err := svc.addChildToParent(ctx, parentID, id); err != nil {
			svc.logger.Warn("linking child to parent", err, map[string]interface{}{"child": id, "parent": parentID})
		}
	}
	return svc.GetChild(ctx, id)
}

func (svc *Service) GetChild(ctx context.Context, id string) (Child, error) {
	var c Child
	err := svc.get(ctx, CollChildren, id, &c)
	return c, err
}

func (svc *Service) ListChildren(ctx context.Context, filter ChildFilter) ([]Child, error) {
	q := docstore.Query{
		Where:    make(map[string]interface{}),
		Ordering: []core.DBOrdering{{Field: "first_name", Ascending: true}, {Field: "last_name", Ascending: true}},
	}
	if f := core.CleanString(filter.ClassName); f != "" {
		q.Where["class_name"] = f
	}
	if f := core.CleanString(filter.ParentID); f != "" {
		q.Where["parent_ids"] = f
	}
	return listAs[Child](ctx, svc.store, CollChildren, q)
}

// ChildrenOfParent lists the children linked to the parent record parentID.
func (svc *Service) ChildrenOfParent(ctx context.Context, parentID string) ([]Child, error) {
	return svc.ListChildren(ctx, ChildFilter{ParentID: parentID})
}

// UpdateChild replaces the editable fields of a child. The photo is kept unless att replaces it.
func (svc *Service) UpdateChild(ctx context.Context, id string, c Child, att *Attachment) (Child, error) {
	existing, err := svc.GetChild(ctx, id)
	if err != nil {
		return Child{}, err
	}
	if err = svc.checkParents(ctx, c.ParentIDs); err != nil {
		return Child{}, err
	}
	c.PhotoURL, c.PhotoPath = existing.PhotoURL, existing.PhotoPath
	if _, err = svc.save(ctx, CollChildren, id, &c, att); err != nil {
		return Child{}, errors.Wrap(err, "updating child")
	}

	for _, parentID := range c.ParentIDs {
		if !core.ContainsString(existing.ParentIDs, parentID) {
			if err := svc.addChildToParent(ctx, parentID, id); err != nil {
				svc.logger.Warn("linking child to parent", err, map[string]interface{}{"child": id, "parent": parentID})
			}
		}
	}
	for _, parentID := range existing.ParentIDs {
		if !core.ContainsString(c.ParentIDs, parentID) {
			svc.removeChildFromParent(ctx, parentID, id)
		}
	}
	return svc.GetChild(ctx, id)
}

// checkParents fails with a ValidationError when a parent record does not exist.
func (svc *Service) checkParents(ctx context.Context, parentIDs []string) error {
	for _, parentID := range parentIDs {
		_, err := svc.GetParent(ctx, parentID)
		switch errors.Cause(err) {
		case nil:
		case docstore.ErrNotFound:
			return core.NewValidationError(nil, core.FieldError{Field: "parent_ids", Error: "unknown parent: " + parentID})
		default:
			return errors.Wrapf(err, "finding parent %s", parentID)
		}
	}
	return nil
}

func (svc *Service) DeleteChild(ctx context.Context, id string) error {
	c, err := svc.GetChild(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.remove(ctx, CollChildren, id, &c); err != nil {
		return errors.Wrap(err, "deleting child")
	}
	for _, parentID := range c.ParentIDs {
		svc.removeChildFromParent(ctx, parentID, id)
	}
	return nil
}

// LinkParent links a child and a parent record on both sides.
func (svc *Service) LinkParent(ctx context.Context, childID, parentID string) (Child, error) {
	c, err := svc.GetChild(ctx, childID)
	if err != nil {
		return Child{}, err
	}
	p, err := svc.GetParent(ctx, parentID)
	if err != nil {
		return Child{}, err
	}

	if !core.ContainsString(c.ParentIDs, p.ID) {
		c.ParentIDs = append(c.ParentIDs, p.ID)
		if c.ParentName == "" {
			c.ParentName = p.Name
		}
		err = svc.store.Update(ctx, CollChildren, c.ID, docstore.Record{"parent_ids": c.ParentIDs, "parent_name": c.ParentName})
		if err != nil {
			return Child{}, errors.Wrap(err, "linking parent")
		}
	}
	if err = svc.addChildToParent(ctx, p.ID, c.ID); err != nil {
		return Child{}, errors.Wrap(err, "linking child")
	}
	return svc.GetChild(ctx, childID)
}

func (svc *Service) addChildToParent(ctx context.Context, parentID, childID string) error {
	p, err := svc.GetParent(ctx, parentID)
	if err != nil {
		return err
	}
	if core.ContainsString(p.ChildIDs, childID) {
		return nil
	}
	return svc.store.Update(ctx, CollParents, parentID, docstore.Record{"child_ids": append(p.ChildIDs, childID)})
}

// removeChildFromParent is best effort: the parent may be gone already.
func (svc *Service) removeChildFromParent(ctx context.Context, parentID, childID string) {
	p, err := svc.GetParent(ctx, parentID)
	if err != nil {
		return
	}
	if err = svc.store.Update(ctx, CollParents, parentID, docstore.Record{"child_ids": without(p.ChildIDs, childID)}); err != nil {
		svc.logger.Warn("unlinking child from parent", err, map[string]interface{}{"child": childID, "parent": parentID})
	}
}

func without(ss []string, s string) []string {
	out := make([]string, 0, len(ss))
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// Parents

func (svc *Service) CreateParent(ctx context.Context, p Parent) (Parent, error) {
	if p.UserID != "" {
		if _, err := svc.ParentByUserID(ctx, p.UserID); err == nil {
			return Parent{}, ErrParentAccountExists
		}
	}
	id, err := svc.save(ctx, CollParents, "", &p, nil)
	if err != nil {
		return Parent{}, errors.Wrap(err, "creating parent")
	}
	return svc.GetParent(ctx, id)
}

func (svc *Service) GetParent(ctx context.Context, id string) (Parent, error) {
	var p Parent
	err := svc.get(ctx, CollParents, id, &p)
	return p, err
}

// ParentByUserID returns the parent record of a user account.
func (svc *Service) ParentByUserID(ctx context.Context, userID string) (Parent, error) {
	parents, err := listAs[Parent](ctx, svc.store, CollParents, docstore.Query{Where: map[string]interface{}{"user_id": userID}, Limit: 1})
	if err != nil {
		return Parent{}, err
	}
	if len(parents) == 0 {
		return Parent{}, docstore.ErrNotFound
	}
	return parents[0], nil
}

func (svc *Service) parentByEmail(ctx context.Context, email string) (Parent, error) {
	parents, err := listAs[Parent](ctx, svc.store, CollParents, docstore.Query{Where: map[string]interface{}{"email": email}, Limit: 1})
	if err != nil {
		return Parent{}, err
	}
	if len(parents) == 0 {
		return Parent{}, docstore.ErrNotFound
	}
	return parents[0], nil
}

func (svc *Service) ListParents(ctx context.Context) ([]Parent, error) {
	return listAs[Parent](ctx, svc.store, CollParents, docstore.Query{Ordering: []core.DBOrdering{{Field: "name", Ascending: true}}})
}

// UpdateParent replaces the editable fields of a parent. Links to user and children are kept.
func (svc *Service) UpdateParent(ctx context.Context, id string, p Parent) (Parent, error) {
	existing, err := svc.GetParent(ctx, id)
	if err != nil {
		return Parent{}, err
	}
	p.UserID, p.ChildIDs = existing.UserID, existing.ChildIDs
	if _, err = svc.save(ctx, CollParents, id, &p, nil); err != nil {
		return Parent{}, errors.Wrap(err, "updating parent")
	}
	return svc.GetParent(ctx, id)
}

func (svc *Service) DeleteParent(ctx context.Context, id string) error {
	p, err := svc.GetParent(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.store.Delete(ctx, CollParents, id); err != nil {
		return errors.Wrap(err, "deleting parent")
	}
	for _, childID := range p.ChildIDs {
		c, err := svc.GetChild(ctx, childID)
		if err != nil {
			continue
		}
		if err = svc.store.Update(ctx, CollChildren, childID, docstore.Record{"parent_ids": without(c.ParentIDs, id)}); err != nil {
			svc.logger.Warn("unlinking parent from child", err, map[string]interface{}{"child": childID, "parent": id})
		}
	}
	return nil
}

// Teachers

func (svc *Service) CreateTeacher(ctx context.Context, t Teacher, att *Attachment) (Teacher, error) {
	id, err := svc.save(ctx, CollTeachers, "", &t, att)
	if err != nil {
		return Teacher{}, errors.Wrap(err, "creating teacher")
	}
	return svc.GetTeacher(ctx, id)
}

func (svc *Service) GetTeacher(ctx context.Context, id string) (Teacher, error) {
	var t Teacher
	err := svc.get(ctx, CollTeachers, id, &t)
	return t, err
}

func (svc *Service) ListTeachers(ctx context.Context) ([]Teacher, error) {
	return listAs[Teacher](ctx, svc.store, CollTeachers, docstore.Query{Ordering: []core.DBOrdering{{Field: "name", Ascending: true}}})
}

func (svc *Service) UpdateTeacher(ctx context.Context, id string, t Teacher, att *Attachment) (Teacher, error) {
	existing, err := svc.GetTeacher(ctx, id)
	if err != nil {
		return Teacher{}, err
	}
	t.UserID, t.PhotoURL, t.PhotoPath = existing.UserID, existing.PhotoURL, existing.PhotoPath
	if _, err = svc.save(ctx, CollTeachers, id, &t, att); err != nil {
		return Teacher{}, errors.Wrap(err, "updating teacher")
	}
	return svc.GetTeacher(ctx, id)
}

func (svc *Service) DeleteTeacher(ctx context.Context, id string) error {
	t, err := svc.GetTeacher(ctx, id)
	if err != nil {
		return err
	}
	return svc.remove(ctx, CollTeachers, id, &t)
}

// Events

func (svc *Service) CreateEvent(ctx context.Context, e Event, att *Attachment) (Event, error) {
	id, err := svc.save(ctx, CollEvents, "", &e, att)
	if err != nil {
		return Event{}, errors.Wrap(err, "creating event")
	}
	return svc.GetEvent(ctx, id)
}

func (svc *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	var e Event
	err := svc.get(ctx, CollEvents, id, &e)
	return e, err
}

// ListEvents lists events by start time. With upcoming set, events that ended already are left out.
func (svc *Service) ListEvents(ctx context.Context, upcoming bool) ([]Event, error) {
	events, err := listAs[Event](ctx, svc.store, CollEvents, docstore.Query{Ordering: []core.DBOrdering{{Field: "starts_at", Ascending: true}}})
	if err != nil || !upcoming {
		return events, err
	}

	now := svc.now()
	filtered := make([]Event, 0, len(events))
	for _, e := range events {
		end := e.EndsAt
		if end.IsZero() {
			end = e.StartsAt
		}
		if !end.Before(now) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (svc *Service) UpdateEvent(ctx context.Context, id string, e Event, att *Attachment) (Event, error) {
	existing, err := svc.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	e.CreatedBy, e.ImageURL, e.ImagePath = existing.CreatedBy, existing.ImageURL, existing.ImagePath
	if _, err = svc.save(ctx, CollEvents, id, &e, att); err != nil {
		return Event{}, errors.Wrap(err, "updating event")
	}
	return svc.GetEvent(ctx, id)
}

func (svc *Service) DeleteEvent(ctx context.Context, id string) error {
	e, err := svc.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	return svc.remove(ctx, CollEvents, id, &e)
}

// Documents

// CreateDocument stores a document; the file is required.
func (svc *Service) CreateDocument(ctx context.Context, d Document, att *Attachment) (Document, error) {
	if att == nil {
		return Document{}, core.NewValidationError(nil, core.FieldError{Field: "file", Error: "this field is required"})
	}
	id, err := svc.save(ctx, CollDocuments, "", &d, att)
	if err != nil {
		return Document{}, errors.Wrap(err, "creating document")
	}
	return svc.GetDocument(ctx, id)
}

func (svc *Service) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	err := svc.get(ctx, CollDocuments, id, &d)
	return d, err
}

// ListDocuments lists the documents visible to viewer, optionally in a single category.
func (svc *Service) ListDocuments(ctx context.Context, viewer user.User, category string) ([]Document, error) {
	q := docstore.Query{}
	if category = core.CleanString(category); category != "" {
		q.Where = map[string]interface{}{"category": category}
	}
	docs, err := listAs[Document](ctx, svc.store, CollDocuments, q)
	if err != nil {
		return nil, err
	}
	visible := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.VisibleTo(viewer) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

func (svc *Service) UpdateDocument(ctx context.Context, id string, d Document, att *Attachment) (Document, error) {
	existing, err := svc.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	d.CreatedBy, d.FileURL, d.FilePath, d.FileName = existing.CreatedBy, existing.FileURL, existing.FilePath, existing.FileName
	if _, err = svc.save(ctx, CollDocuments, id, &d, att); err != nil {
		return Document{}, errors.Wrap(err, "updating document")
	}
	return svc.GetDocument(ctx, id)
}

func (svc *Service) DeleteDocument(ctx context.Context, id string) error {
	d, err := svc.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	return svc.remove(ctx, CollDocuments, id, &d)
}

// Gallery

// AddGalleryImage stores a gallery image; the image is required.
func (svc *Service) AddGalleryImage(ctx context.Context, g GalleryImage, att *Attachment) (GalleryImage, error) {
	if att == nil {
		return GalleryImage{}, core.NewValidationError(nil, core.FieldError{Field: "image", Error: "this field is required"})
	}
	id, err := svc.save(ctx, CollGallery, "", &g, att)
	if err != nil {
		return GalleryImage{}, errors.Wrap(err, "adding gallery image")
	}
	return svc.GetGalleryImage(ctx, id)
}

func (svc *Service) GetGalleryImage(ctx context.Context, id string) (GalleryImage, error) {
	var g GalleryImage
	err := svc.get(ctx, CollGallery, id, &g)
	return g, err
}

func (svc *Service) ListGallery(ctx context.Context, filter GalleryFilter) ([]GalleryImage, error) {
	q := docstore.Query{}
	if album := core.CleanString(filter.Album); album != "" {
		q.Where = map[string]interface{}{"album": album}
	}
	return listAs[GalleryImage](ctx, svc.store, CollGallery, q)
}

// UpdateGalleryImage edits the caption and album of an image.
func (svc *Service) UpdateGalleryImage(ctx context.Context, id string, g GalleryImage) (GalleryImage, error) {
	existing, err := svc.GetGalleryImage(ctx, id)
	if err != nil {
		return GalleryImage{}, err
	}
	g.UploadedBy, g.ImageURL, g.ImagePath = existing.UploadedBy, existing.ImageURL, existing.ImagePath
	if _, err = svc.save(ctx, CollGallery, id, &g, nil); err != nil {
		return GalleryImage{}, errors.Wrap(err, "updating gallery image")
	}
	return svc.GetGalleryImage(ctx, id)
}

func (svc *Service) DeleteGalleryImage(ctx context.Context, id string) error {
	g, err := svc.GetGalleryImage(ctx, id)
	if err != nil {
		return err
	}
	return svc.remove(ctx, CollGallery, id, &g)
}

// Registrations

// SubmitRegistration records a pending registration request.
func (svc *Service) SubmitRegistration(ctx context.Context, r Registration) (Registration, error) {
	r.Status, r.ChildID = StatusPending, ""
	id, err := svc.save(ctx, CollRegistrations, "", &r, nil)
	if err != nil {
		return Registration{}, errors.Wrap(err, "submitting registration")
	}
	return svc.GetRegistration(ctx, id)
}

func (svc *Service) GetRegistration(ctx context.Context, id string) (Registration, error) {
	var r Registration
	err := svc.get(ctx, CollRegistrations, id, &r)
	return r, err
}

func (svc *Service) ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]Registration, error) {
	q := docstore.Query{}
	if status := core.CleanString(filter.Status, true /* lower */); status != "" {
		q.Where = map[string]interface{}{"status": status}
	}
	return listAs[Registration](ctx, svc.store, CollRegistrations, q)
}

// ApproveRegistration creates the child of a pending registration, links it to the parent record
// with the registration's email (when there is one) and emails the parent.
// The child is removed again when the registration cannot be marked approved.
func (svc *Service) ApproveRegistration(ctx context.Context, id string) (Registration, Child, error) {
	r, err := svc.GetRegistration(ctx, id)
	if err != nil {
		return Registration{}, Child{}, err
	}
	if r.Status != StatusPending {
		return Registration{}, Child{}, core.NewValidationError(ErrRegistrationClosed)
	}

	c := Child{
		FirstName:   r.ChildFirstName,
		LastName:    r.ChildLastName,
		DateOfBirth: r.ChildDateOfBirth,
		ParentName:  r.ParentName,
		Notes:       r.Notes,
	}
	parent, err := svc.parentByEmail(ctx, r.ParentEmail)
	switch errors.Cause(err) {
	case nil:
		c.ParentIDs = []string{parent.ID}
	case docstore.ErrNotFound:
	default:
		return Registration{}, Child{}, errors.Wrap(err, "finding parent")
	}

	if c, err = svc.CreateChild(ctx, c, nil); err != nil {
		return Registration{}, Child{}, err
	}
	err = svc.store.Update(ctx, CollRegistrations, id, docstore.Record{"status": StatusApproved, "child_id": c.ID})
	if err != nil {
		if derr := svc.DeleteChild(ctx, c.ID); derr != nil {
			svc.logger.Error("rolling back approved child", derr, map[string]interface{}{"child": c.ID})
		}
		return Registration{}, Child{}, errors.Wrap(err, "approving registration")
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: r.ParentName, Address: r.ParentEmail}},
		Subject:      "Registration approved",
		TemplateName: "registration_approved",
		TemplateData: map[string]interface{}{"ParentName": r.ParentName, "ChildName": r.ChildName()},
	})

	r, err = svc.GetRegistration(ctx, id)
	return r, c, err
}

func (svc *Service) RejectRegistration(ctx context.Context, id string) (Registration, error) {
	r, err := svc.GetRegistration(ctx, id)
	if err != nil {
		return Registration{}, err
	}
	if r.Status != StatusPending {
		return Registration{}, core.NewValidationError(ErrRegistrationClosed)
	}
	if err = svc.store.Update(ctx, CollRegistrations, id, docstore.Record{"status": StatusRejected}); err != nil {
		return Registration{}, errors.Wrap(err, "rejecting registration")
	}
	return svc.GetRegistration(ctx, id)
}

// Accounts

// SignUpParent creates a parent's user account and their parent record.
// The account is deleted again when the parent record cannot be created.
func (svc *Service) SignUpParent(ctx context.Context, su user.SignUp) (user.User, Parent, error) {
	usr, err := svc.users.SignUp(ctx, su)
	if err != nil {
		return user.User{}, Parent{}, err
	}

	p, err := svc.CreateParent(ctx, Parent{UserID: usr.ID, Name: usr.Name, Email: usr.Email, Phone: su.Phone})
	if err != nil {
		if derr := svc.users.Delete(ctx, usr.ID); derr != nil {
			svc.logger.Error("rolling back parent sign-up", derr, usr)
		}
		return user.User{}, Parent{}, err
	}
	return usr, p, nil
}

// DeleteAccount deletes usr's account and, for parents, their parent record.
func (svc *Service) DeleteAccount(ctx context.Context, usr user.User, password string) error {
	if err := svc.users.DeleteAccount(ctx, usr, password); err != nil {
		return err
	}
	p, err := svc.ParentByUserID(ctx, usr.ID)
	if err != nil {
		if errors.Cause(err) != docstore.ErrNotFound {
			svc.logger.Error("finding parent record of deleted account", err, usr)
		}
		return nil
	}
	if err = svc.DeleteParent(ctx, p.ID); err != nil {
		svc.logger.Error("deleting parent record of deleted account", err, usr)
	}
	return nil
}
