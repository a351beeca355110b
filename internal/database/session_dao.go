package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/protomem/attendance-tracker/internal/model"
)

var _sessionColumns = []string{"id", "user_id", "login_time", "logout_time"}

// SessionDAO is the durable session log. At most one open session per user is
// enforced by a partial unique index and re-checked before every write.
type SessionDAO struct {
	Logger *slog.Logger
	*DB

	q Querier
}

func NewSessionDAO(logger *slog.Logger, db *DB) *SessionDAO {
	return &SessionDAO{
		Logger: logger.With("dao", "session"),
		DB:     db,
		q:      db.DB,
	}
}

func (dao *SessionDAO) withTx(tx *sqlx.Tx) *SessionDAO {
	return &SessionDAO{Logger: dao.Logger, DB: dao.DB, q: tx}
}

func (dao *SessionDAO) Get(ctx context.Context, id model.ID) (model.Session, error) {
	query, args, err := dao.Builder.
		Select(_sessionColumns...).
		From("sessions").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Session{}, err
	}

	dao.Logger.Debug("query", "sql", query, "args", args)

	var session model.Session
	row := dao.q.QueryRowxContext(ctx, query, args...)
	if err := row.StructScan(&session); err != nil {
		if IsNoRows(err) {
			return model.Session{}, model.NewError("session", model.ErrNotFound)
		}

		return model.Session{}, err
	}

	return session, nil
}

func (dao *SessionDAO) Open(ctx context.Context, user model.ID, at time.Time) (model.ID, error) {
	query, args, err := dao.Builder.
		Insert("sessions").
		Columns("user_id", "login_time").
		Values(user, model.NewTimestamp(at)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	dao.Logger.Debug("query", "sql", query, "args", args)

	var id model.ID
	row := dao.q.QueryRowxContext(ctx, query, args...)
	if err := row.Scan(&id); err != nil {
		if IsUniqueViolation(err) {
			return 0, model.NewError("session", fmt.Errorf("%w: user %d already has an open session", model.ErrExists, user))
		}

		return 0, err
	}

	return id, nil
}

func (dao *SessionDAO) Close(ctx context.Context, id model.ID, at time.Time) error {
	session, err := dao.Get(ctx, id)
	if err != nil {
		return err
	}

	logout := model.NewTimestamp(at)
	if !session.Open() {
		return model.NewError("session", fmt.Errorf("%w: session %d is already closed", model.ErrInvalid, id))
	}
	if logout.Before(session.LoginAt.Time) {
		return model.NewError("session", fmt.Errorf("%w: logout precedes login", model.ErrInvalid))
	}

	query, args, err := dao.Builder.
		Update("sessions").
		SetMap(map[string]any{
			"logout_time": logout,
		}).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"logout_time": nil}).
		ToSql()
	if err != nil {
		return err
	}

	dao.Logger.Debug("query", "sql", query, "args", args)

	if _, err = dao.q.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	return nil
}

// Apply persists all changes of one cycle in a single transaction and returns
// the ids of the sessions it opened, keyed by user.
func (dao *SessionDAO) Apply(ctx context.Context, changes []model.SessionChange) (map[model.ID]model.ID, error) {
	opened := make(map[model.ID]model.ID)
	if len(changes) == 0 {
		return opened, nil
	}

	err := dao.InTx(ctx, func(tx *sqlx.Tx) error {
		txDAO := dao.withTx(tx)

		for _, change := range changes {
			switch change.Kind {
			case model.SessionOpened:
				id, err := txDAO.Open(ctx, change.User, change.At.Time)
				if err != nil {
					return err
				}
				opened[change.User] = id
			case model.SessionClosed:
				if err := txDAO.Close(ctx, change.Session, change.At.Time); err != nil {
					return err
				}
			default:
				return model.NewError("session change", fmt.Errorf("%w: kind %d", model.ErrInvalid, change.Kind))
			}
		}

		return nil
	})
	if err != nil {
		dao.Logger.Warn("failed to apply changes", "countChanges", len(changes), "error", err)
		return nil, err
	}

	dao.Logger.Debug("applied changes", "countChanges", len(changes), "countOpened", len(opened))

	return opened, nil
}

// Current returns every open session keyed by user.
func (dao *SessionDAO) Current(ctx context.Context) (map[model.ID]model.Session, error) {
	query, args, err := dao.Builder.
		Select(_sessionColumns...).
		From("sessions").
		Where(squirrel.Eq{"logout_time": nil}).
		OrderBy("login_time ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	dao.Logger.Debug("query", "sql", query, "args", args)

	var sessions []model.Session
	if err := dao.q.SelectContext(ctx, &sessions, query, args...); err != nil && !IsNoRows(err) {
		return nil, err
	}

	current := make(map[model.ID]model.Session, len(sessions))
	for _, session := range sessions {
		if prev, ok := current[session.User]; ok {
			return nil, model.NewError("session", fmt.Errorf(
				"%w: user %d has open sessions %d and %d", model.ErrInvalid, session.User, prev.ID, session.ID,
			))
		}
		current[session.User] = session
	}

	return current, nil
}

func (dao *SessionDAO) ListByUser(ctx context.Context, user model.ID) ([]model.Session, error) {
	query, args, err := dao.Builder.
		Select(_sessionColumns...).
		From("sessions").
		Where(squirrel.Eq{"user_id": user}).
		OrderBy("login_time ASC", "id ASC").
		ToSql()
	if err != nil {
		return []model.Session{}, err
	}

	dao.Logger.Debug("query", "sql", query, "args", args)

	sessions := make([]model.Session, 0)
	if err := dao.q.SelectContext(ctx, &sessions, query, args...); err != nil && !IsNoRows(err) {
		return []model.Session{}, err
	}

	return sessions, nil
}

// _presenceSeconds sums closed intervals plus the running part of an open one.
const _presenceSeconds = "CAST(COALESCE(SUM(COALESCE(s.logout_time, ?) - s.login_time), 0) AS BIGINT)"

// TotalPresence returns the accumulated presence of a user as of now.
func (dao *SessionDAO) TotalPresence(ctx context.Context, user model.ID, now time.Time) (time.Duration, error) {
	query, args, err := dao.Builder.
		Select().
		Column(squirrel.Expr(_presenceSeconds, now.Unix())).
		From("sessions s").
		Where(squirrel.Eq{"s.user_id": user}).
		ToSql()
	if err != nil {
		return 0, err
	}

	dao.Logger.Debug("query", "sql", query, "args", args)

	var seconds int64
	if err := dao.q.GetContext(ctx, &seconds, query, args...); err != nil {
		return 0, err
	}

	return time.Duration(seconds) * time.Second, nil
}

type UserTotal struct {
	User    model.ID   `json:"userId" db:"id"`
	Name    string     `json:"name" db:"name"`
	Role    model.Role `json:"role" db:"role"`
	Seconds int64      `json:"-" db:"seconds"`
}

func (t UserTotal) Total() time.Duration {
	return time.Duration(t.Seconds) * time.Second
}

// Totals returns the accumulated presence of every user, including users
// without any session, ordered by name.
func (dao *SessionDAO) Totals(ctx context.Context, now time.Time) ([]UserTotal, error) {
	query, args, err := dao.Builder.
		Select("u.id", "u.name", "u.role").
		Column(squirrel.Alias(squirrel.Expr(_presenceSeconds, now.Unix()), "seconds")).
		From("users u").
		LeftJoin("sessions s ON s.user_id = u.id").
		GroupBy("u.id", "u.name", "u.role").
		OrderBy("u.name ASC", "u.id ASC").
		ToSql()
	if err != nil {
		return []UserTotal{}, err
	}

	dao.Logger.Debug("query", "sql", query, "args", args)

	totals := make([]UserTotal, 0)
	if err := dao.q.SelectContext(ctx, &totals, query, args...); err != nil && !IsNoRows(err) {
		return []UserTotal{}, err
	}

	return totals, nil
}
