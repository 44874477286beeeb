package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/user"
)

const userColumns = `id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login`

// userRow mirrors the "user" table. Empty usernames and emails are stored as NULL to keep them out of the unique indexes.
type userRow struct {
	ID           string         `db:"id"`
	Name         null.String    `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func toRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         null.NewString(usr.Name, usr.Name != ""),
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        roles,
		PasswordHash: null.NewBytes(usr.PasswordHash, len(usr.PasswordHash) > 0),
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (r userRow) user() user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name.String,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive,
		Roles:        []string(r.Roles),
		PasswordHash: r.PasswordHash.Bytes,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time.UTC()
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	excluded := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		if _, err := uuid.Parse(u.ID); err == nil {
			excluded = append(excluded, u.ID)
		}
	}

	var row userRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT `+userColumns+` FROM "user"
		WHERE (username = $1 OR email = $2) AND NOT (id = ANY($3::uuid[]))
		LIMIT 1`,
		null.NewString(username, username != ""), null.NewString(email, email != ""), pq.Array(excluded))
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return errors.Wrap(err, "checking user uniqueness")
	case username != "" && row.Username.String == username:
		return user.ErrUsernameExists
	}
	return user.ErrEmailExists
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.NewString()
	var row userRow
	err := repo.db.GetContext(ctx, &row,
		`INSERT INTO "user" (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+userColumns,
		toRow(usr).args()...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.user(), nil
}

func (r userRow) args() []interface{} {
	return []interface{}{r.ID, r.Name, r.Username, r.Email, r.IsActive, r.Roles, r.PasswordHash, r.CreatedAt, r.UpdatedAt, r.LastLogin}
}

// queryBuilder accumulates AND-ed conditions with positional arguments.
type queryBuilder struct {
	conds []string
	args  []interface{}
}

func (qb *queryBuilder) arg(v interface{}) string {
	qb.args = append(qb.args, v)
	return fmt.Sprintf("$%d", len(qb.args))
}

func (qb *queryBuilder) where(cond string) {
	qb.conds = append(qb.conds, cond)
}

func (qb *queryBuilder) clause() string {
	if len(qb.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(qb.conds, " AND ")
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error) {
	qb := new(queryBuilder)

	if !filter.IsEmpty() {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			p := qb.arg("%" + filter.Search + "%")
			qb.where(fmt.Sprintf("(name ILIKE %[1]s OR username ILIKE %[1]s OR email ILIKE %[1]s)", p))
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			patterns := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				patterns = append(patterns, role+"%")
			}
			qb.where(fmt.Sprintf("EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE ANY(%s))", qb.arg(pq.Array(patterns))))
		}
		if filter.IsActive != nil {
			qb.where("is_active = " + qb.arg(*filter.IsActive))
		}
		if !filter.CreatedFrom.IsZero() {
			qb.where("created_at >= " + qb.arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			qb.where("created_at <= " + qb.arg(filter.CreatedTo.UTC()))
		}
	}

	ordering = user.CleanOrdering(ordering)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	orderBy := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		orderBy = append(orderBy, ord.String())
	}
	orderBy = append(orderBy, "id ASC")

	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM "user"` + qb.clause() + ` ORDER BY ` + strings.Join(orderBy, ", ")
	if err := repo.db.SelectContext(ctx, &rows, q, qb.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo *userRepository) getBy(ctx context.Context, cond string, val interface{}, msg string) (user.User, error) {
	var row userRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM "user" WHERE `+cond+` LIMIT 1`, val); err != nil {
		return user.User{}, trapNoRowsErr(err, msg)
	}
	return row.user(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	return repo.getBy(ctx, "id = $1", id, "getting user by ID")
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, "username = $1", username, "getting user by username")
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getBy(ctx, "email = $1", email, "getting user by email")
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getBy(ctx, "(username = $1 OR email = $1)", username, "getting user by username or email")
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	if _, err := uuid.Parse(usr.ID); err != nil {
		return user.User{}, user.ErrNotFound
	}
	var row userRow
	err := repo.db.GetContext(ctx, &row,
		`UPDATE "user" SET
			name = $2, username = $3, email = $4, is_active = $5, roles = $6,
			password_hash = $7, created_at = $8, updated_at = $9, last_login = $10
		WHERE id = $1
		RETURNING `+userColumns,
		toRow(usr).args()...)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, "updating user")
	}
	return row.user(), nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM "user" WHERE id = ANY($1::uuid[])`, pq.Array(valid)); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
