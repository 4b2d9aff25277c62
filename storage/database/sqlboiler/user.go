package boiledrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

var (
	userColumns = []string{"id", "name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at", "last_login"}

	// fields a user query can be ordered by
	userOrderings = map[string]bool{"name": true, "username": true, "email": true, "created_at": true, "updated_at": true, "last_login": true}
)

type userRow struct {
	ID           string            `boil:"id"`
	Name         string            `boil:"name"`
	Username     null.String       `boil:"username"`
	Email        null.String       `boil:"email"`
	IsActive     bool              `boil:"is_active"`
	Roles        types.StringArray `boil:"roles"`
	PasswordHash []byte            `boil:"password_hash"`
	CreatedAt    time.Time         `boil:"created_at"`
	UpdatedAt    time.Time         `boil:"updated_at"`
	LastLogin    null.Time         `boil:"last_login"`
}

func (r *userRow) values() []interface{} {
	return []interface{}{r.ID, r.Name, r.Username, r.Email, r.IsActive, r.Roles, r.PasswordHash, r.CreatedAt, r.UpdatedAt, r.LastLogin}
}

type userRepository struct {
	executor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{executor{exec: exec}}
}

func (repo userRepository) boil(usr user.User) *userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	pwdHash := usr.PasswordHash
	if pwdHash == nil {
		pwdHash = []byte{}
	}
	return &userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        roles,
		PasswordHash: pwdHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) unboil(r *userRow) user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive,
		Roles:        r.Roles,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time.UTC()
	}
	return usr
}

func (repo userRepository) unboilSlice(rows []*userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, repo.unboil(r))
	}
	return users
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	if username == "" && email == "" {
		return nil
	}
	mods := []qm.QueryMod{
		qm.Select("username", "email"),
		qm.Expr(qm.Where("username = ?", null.NewString(username, username != "")), qm.Or("email = ?", null.NewString(email, email != ""))),
	}
	if len(excludedUsers) > 0 {
		ids := make([]interface{}, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		mods = append(mods, qm.WhereNotIn("id NOT IN ?", ids...))
	}

	var rows []*userRow
	if err := newQuery(userTable, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	var unameTaken, emailTaken bool
	for _, r := range rows {
		if username != "" && r.Username.String == username {
			unameTaken = true
		}
		if email != "" && r.Email.String == email {
			emailTaken = true
		}
	}
	switch {
	case unameTaken && emailTaken:
		return user.ErrUserExists
	case unameTaken:
		return user.ErrUsernameExists
	case emailTaken:
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	r := repo.boil(usr)
	if err := insert(ctx, repo.getExec(exec), userTable, userColumns, r.values()...); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, core.NewValidationError(err, core.FieldError{Field: "username", Error: user.ErrUserExists.Error()})
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.unboil(r), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var mods []qm.QueryMod

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			mods = append(mods, qm.Expr(
				qm.Where("name ILIKE ?", val),
				qm.Or("username ILIKE ?", val),
				qm.Or("email ILIKE ?", val),
			))
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleMods := make([]qm.QueryMod, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleMods = append(roleMods, qm.Or2(qm.Where(
					`id IN (SELECT id FROM "user", UNNEST(roles) user_role WHERE user_role LIKE ?)`, role+"%")))
			}
			mods = append(mods, qm.Expr(roleMods...))
		}
		if filter.IsActive != nil {
			mods = append(mods, qm.Where("is_active = ?", *filter.IsActive))
		}
		if !filter.CreatedFrom.IsZero() {
			mods = append(mods, qm.Where("created_at >= ?", filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			mods = append(mods, qm.Where("created_at <= ?", filter.CreatedTo.UTC()))
		}
	}

	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if userOrderings[ord.Field] {
			orderList = append(orderList, ord.String())
		}
	}
	orderList = append(orderList, "created_at ASC")
	mods = append(mods, qm.OrderBy(strings.Join(orderList, ", ")))

	var rows []*userRow
	if err := newQuery(userTable, mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unboilSlice(rows), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var mod qm.QueryMod
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		mod = qm.Where("id = ?", filter.ID)
	case filter.Username != "":
		mod = qm.Where("username = ?", filter.Username)
	case filter.Email != "":
		mod = qm.Where("email = ?", filter.Email)
	case filter.UsernameOrEmail != "":
		mod = qm.Where("username = ? OR email = ?", filter.UsernameOrEmail, filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}

	var r userRow
	if err := newQuery(userTable, mod, qm.Limit(1)).Bind(ctx, repo.getExec(exec), &r); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return repo.unboil(&r), nil
}

func (repo userRepository) GetUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]user.User, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return []user.User{}, nil
	}
	var rows []*userRow
	if err := newQuery(userTable, whereIn("id", ids)).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying users by id")
	}
	return repo.unboilSlice(rows), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	r := repo.boil(usr)
	// every column but the primary key
	found, err := update(ctx, repo.getExec(exec), userTable, "id", r.ID, userColumns[1:], r.values()[1:]...)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, core.NewValidationError(err, core.FieldError{Field: "username", Error: user.ErrUserExists.Error()})
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if !found {
		return user.User{}, user.ErrNotFound
	}
	return repo.unboil(r), nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	q := newQuery(userTable, whereIn("id", ids))
	queries.SetDelete(q)
	res, err := q.ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "deleting users")
}
