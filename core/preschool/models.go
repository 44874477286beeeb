package preschool

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/user"
)

// Collections
const (
	CollChildren      = "children"
	CollParents       = "parents"
	CollTeachers      = "teachers"
	CollEvents        = "events"
	CollDocuments     = "documents"
	CollGallery       = "gallery"
	CollRegistrations = "registrations"
)

// Document audiences
const (
	AudienceAll      = "all"
	AudienceParents  = "parents"
	AudienceTeachers = "teachers"
)

var Audiences = []string{AudienceAll, AudienceParents, AudienceTeachers}

// Registration statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

const dateLayout = "2006-01-02"

type (
	Child struct {
		ID          string    `json:"id"`
		FirstName   string    `json:"first_name" validate:"required,notblank,max=100"`
		LastName    string    `json:"last_name" validate:"required,notblank,max=100"`
		DateOfBirth string    `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
		ClassName   string    `json:"class_name" validate:"max=100"`
		ParentIDs   []string  `json:"parent_ids"`
		ParentName  string    `json:"parent_name" validate:"max=200"` // display only
		Allergies   []string  `json:"allergies" validate:"dive,max=100"`
		Notes       string    `json:"notes" validate:"max=2000"`
		PhotoURL    string    `json:"photo_url"`
		PhotoPath   string    `json:"photo_path"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	Parent struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		Name      string    `json:"name" validate:"required,notblank,max=200"`
		Email     string    `json:"email" validate:"omitempty,email"`
		Phone     string    `json:"phone" validate:"max=32"`
		ChildIDs  []string  `json:"child_ids"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	Teacher struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		Name      string    `json:"name" validate:"required,notblank,max=200"`
		Email     string    `json:"email" validate:"omitempty,email"`
		ClassName string    `json:"class_name" validate:"max=100"`
		Bio       string    `json:"bio" validate:"max=2000"`
		PhotoURL  string    `json:"photo_url"`
		PhotoPath string    `json:"photo_path"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	Event struct {
		ID          string    `json:"id"`
		Title       string    `json:"title" validate:"required,notblank,max=200"`
		Description string    `json:"description" validate:"max=5000"`
		Location    string    `json:"location" validate:"max=200"`
		StartsAt    time.Time `json:"starts_at" validate:"required"`
		EndsAt      time.Time `json:"ends_at" validate:"omitempty,gtefield=StartsAt"`
		ImageURL    string    `json:"image_url"`
		ImagePath   string    `json:"image_path"`
		CreatedBy   string    `json:"created_by"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	Document struct {
		ID          string    `json:"id"`
		Title       string    `json:"title" validate:"required,notblank,max=200"`
		Description string    `json:"description" validate:"max=2000"`
		Category    string    `json:"category" validate:"max=100"`
		Audience    []string  `json:"audience" validate:"audience"`
		FileURL     string    `json:"file_url"`
		FilePath    string    `json:"file_path"`
		FileName    string    `json:"file_name"`
		CreatedBy   string    `json:"created_by"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	GalleryImage struct {
		ID         string    `json:"id"`
		Caption    string    `json:"caption" validate:"max=500"`
		Album      string    `json:"album" validate:"max=100"`
		ImageURL   string    `json:"image_url"`
		ImagePath  string    `json:"image_path"`
		UploadedBy string    `json:"uploaded_by"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	Registration struct {
		ID               string    `json:"id"`
		ChildFirstName   string    `json:"child_first_name" validate:"required,notblank,max=100"`
		ChildLastName    string    `json:"child_last_name" validate:"required,notblank,max=100"`
		ChildDateOfBirth string    `json:"child_date_of_birth" validate:"required,datetime=2006-01-02"`
		ParentName       string    `json:"parent_name" validate:"required,notblank,max=200"`
		ParentEmail      string    `json:"parent_email" validate:"required,email"`
		ParentPhone      string    `json:"parent_phone" validate:"max=32"`
		Notes            string    `json:"notes" validate:"max=2000"`
		Status           string    `json:"status"`
		ChildID          string    `json:"child_id"`
		CreatedAt        time.Time `json:"created_at"`
		UpdatedAt        time.Time `json:"updated_at"`
	}
)

func (c *Child) FullName() string {
	return core.CleanString(c.FirstName + " " + c.LastName)
}

func (c *Child) Clean() {
	c.FirstName = core.CleanString(c.FirstName)
	c.LastName = core.CleanString(c.LastName)
	c.DateOfBirth = core.CleanString(c.DateOfBirth)
	c.ClassName = core.CleanString(c.ClassName)
	c.ParentIDs = core.CleanStrings(c.ParentIDs)
	c.ParentName = core.CleanString(c.ParentName)
	c.Allergies = core.CleanStrings(c.Allergies)
	c.Notes = core.CleanString(c.Notes)
}

func (c *Child) Validate(validate *validator.Validate) error {
	c.Clean()
	return validate.Struct(c)
}

// Age returns the child's age in whole years at t, or -1 when the date of birth is unknown.
func (c *Child) Age(t time.Time) int {
	dob, err := time.Parse(dateLayout, c.DateOfBirth)
	if err != nil {
		return -1
	}
	age := t.Year() - dob.Year()
	if t.Month() < dob.Month() || (t.Month() == dob.Month() && t.Day() < dob.Day()) {
		age--
	}
	return age
}

func (p *Parent) Validate(validate *validator.Validate) error {
	p.Name = core.CleanString(p.Name)
	p.Email = core.CleanString(p.Email, true /* lower */)
	p.Phone = core.CleanString(p.Phone)
	p.ChildIDs = core.CleanStrings(p.ChildIDs)
	return validate.Struct(p)
}

func (t *Teacher) Validate(validate *validator.Validate) error {
	t.Name = core.CleanString(t.Name)
	t.Email = core.CleanString(t.Email, true /* lower */)
	t.ClassName = core.CleanString(t.ClassName)
	t.Bio = core.CleanString(t.Bio)
	return validate.Struct(t)
}

func (e *Event) Validate(validate *validator.Validate) error {
	e.Title = core.CleanString(e.Title)
	e.Description = core.CleanString(e.Description)
	e.Location = core.CleanString(e.Location)
	// minute precision keeps stored timestamps fixed-width, so they sort as text
	e.StartsAt = e.StartsAt.UTC().Truncate(time.Minute)
	if !e.EndsAt.IsZero() {
		e.EndsAt = e.EndsAt.UTC().Truncate(time.Minute)
	}
	return validate.Struct(e)
}

func (d *Document) Validate(validate *validator.Validate) error {
	d.Title = core.CleanString(d.Title)
	d.Description = core.CleanString(d.Description)
	d.Category = core.CleanString(d.Category)
	d.Audience = core.CleanStrings(d.Audience, true /* lower */)
	if len(d.Audience) == 0 {
		d.Audience = []string{AudienceAll}
	}
	return validate.Struct(d)
}

// VisibleTo reports whether usr may see the document.
func (d *Document) VisibleTo(usr user.User) bool {
	if usr.IsAdmin() || core.ContainsString(d.Audience, AudienceAll) {
		return true
	}
	return (usr.IsTeacher() && core.ContainsString(d.Audience, AudienceTeachers)) ||
		(usr.IsParent() && core.ContainsString(d.Audience, AudienceParents))
}

func (g *GalleryImage) Validate(validate *validator.Validate) error {
	g.Caption = core.CleanString(g.Caption)
	g.Album = core.CleanString(g.Album)
	return validate.Struct(g)
}

func (r *Registration) Validate(validate *validator.Validate) error {
	r.ChildFirstName = core.CleanString(r.ChildFirstName)
	r.ChildLastName = core.CleanString(r.ChildLastName)
	r.ChildDateOfBirth = core.CleanString(r.ChildDateOfBirth)
	r.ParentName = core.CleanString(r.ParentName)
	r.ParentEmail = core.CleanString(r.ParentEmail, true /* lower */)
	r.ParentPhone = core.CleanString(r.ParentPhone)
	r.Notes = core.CleanString(r.Notes)
	return validate.Struct(r)
}

func (r *Registration) ChildName() string {
	return core.CleanString(r.ChildFirstName + " " + r.ChildLastName)
}

// Filters

type ChildFilter struct {
	ClassName string `query:"class_name"`
	ParentID  string `query:"parent_id"`
}

type GalleryFilter struct {
	Album string `query:"album"`
}

type RegistrationFilter struct {
	Status string `query:"status"`
}
