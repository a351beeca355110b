package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/protomem/attendance-tracker/internal/model"
)

var _userColumns = []string{"id", "created_at", "updated_at", "name", "role", "hardware_addr"}

type UserDAO struct {
	Logger *slog.Logger
	*DB

	q Querier
}

func NewUserDAO(logger *slog.Logger, db *DB) *UserDAO {
	return &UserDAO{
		Logger: logger.With("dao", "user"),
		DB:     db,
		q:      db.DB,
	}
}

func (dao *UserDAO) withTx(tx *sqlx.Tx) *UserDAO {
	return &UserDAO{Logger: dao.Logger, DB: dao.DB, q: tx}
}

type FindUserFilter struct {
	Name         *string
	Role         *model.Role
	HardwareAddr *model.HardwareAddr
}

func (dao *UserDAO) Find(ctx context.Context, filter FindUserFilter, opts FindOptions) ([]model.User, error) {
	logger := dao.Logger.With("query", "find")

	equals := squirrel.Eq{}
	if filter.Name != nil {
		equals["name"] = *filter.Name
	}
	if filter.Role != nil {
		equals["role"] = *filter.Role
	}
	if filter.HardwareAddr != nil {
		equals["hardware_addr"] = *filter.HardwareAddr
	}

	builder := dao.Builder.
		Select(_userColumns...).
		From("users").
		Where(equals).
		OrderBy("id ASC")
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		builder = builder.Offset(uint64(opts.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return []model.User{}, err
	}

	logger.Debug("build query", "sql", query, "args", args)

	users := make([]model.User, 0, opts.Limit)
	if err := dao.q.SelectContext(ctx, &users, query, args...); err != nil {
		if IsNoRows(err) {
			logger.Debug("success query execute", "countUsers", 0)
			return []model.User{}, nil
		}

		logger.Warn("failed query execute", "error", err)

		return []model.User{}, err
	}

	logger.Debug("success query execute", "countUsers", len(users))

	return users, nil
}

func (dao *UserDAO) All(ctx context.Context) ([]model.User, error) {
	return dao.Find(ctx, FindUserFilter{}, FindOptions{})
}

func (dao *UserDAO) Get(ctx context.Context, id model.ID) (model.User, error) {
	logger := dao.Logger.With("query", "get")

	query, args, err := dao.Builder.
		Select(_userColumns...).
		From("users").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.User{}, err
	}

	logger.Debug("build query", "sql", query, "args", args)

	var user model.User
	row := dao.q.QueryRowxContext(ctx, query, args...)
	if err := row.StructScan(&user); err != nil {
		if IsNoRows(err) {
			return model.User{}, model.NewError("user", model.ErrNotFound)
		}

		logger.Warn("failed query execute", "error", err)

		return model.User{}, err
	}

	logger.Debug("success query execute", "user", user.ID)

	return user, nil
}

type InsertUserDTO struct {
	Name         string
	Role         model.Role
	HardwareAddr *model.HardwareAddr
}

func (dao *UserDAO) Insert(ctx context.Context, dto InsertUserDTO) (model.ID, error) {
	logger := dao.Logger.With("query", "insert")

	now := model.NewTimestamp(time.Now())

	query, args, err := dao.Builder.
		Insert("users").
		Columns("created_at", "updated_at", "name", "role", "hardware_addr").
		Values(now, now, dto.Name, dto.Role, dto.HardwareAddr).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	logger.Debug("build query", "sql", query, "args", args)

	var id model.ID
	row := dao.q.QueryRowxContext(ctx, query, args...)
	if err := row.Scan(&id); err != nil {
		logger.Warn("failed query execute", "error", err)

		if IsUniqueViolation(err) {
			return 0, model.NewError("hardware address", model.ErrExists)
		}

		return 0, err
	}

	logger.Debug("success query execute", "insertId", id)

	return id, nil
}

// BindHardwareAddr sets the user's hardware address. With reassign the address is
// first released from whichever user currently holds it, in the same transaction.
func (dao *UserDAO) BindHardwareAddr(ctx context.Context, id model.ID, addr model.HardwareAddr, reassign bool) error {
	return dao.InTx(ctx, func(tx *sqlx.Tx) error {
		txDAO := dao.withTx(tx)

		if reassign {
			if err := txDAO.releaseHardwareAddr(ctx, id, addr); err != nil {
				return err
			}
		}

		return txDAO.setHardwareAddr(ctx, id, addr)
	})
}

func (dao *UserDAO) releaseHardwareAddr(ctx context.Context, keep model.ID, addr model.HardwareAddr) error {
	logger := dao.Logger.With("query", "release")

	query, args, err := dao.Builder.
		Update("users").
		SetMap(map[string]any{
			"hardware_addr": nil,
			"updated_at":    model.NewTimestamp(time.Now()),
		}).
		Where(squirrel.Eq{"hardware_addr": addr}).
		Where(squirrel.NotEq{"id": keep}).
		ToSql()
	if err != nil {
		return err
	}

	logger.Debug("build query", "sql", query, "args", args)

	res, err := dao.q.ExecContext(ctx, query, args...)
	if err != nil {
		logger.Warn("failed query execute", "error", err)
		return err
	}

	released, _ := res.RowsAffected()
	logger.Debug("success query execute", "countReleased", released)

	return nil
}

func (dao *UserDAO) setHardwareAddr(ctx context.Context, id model.ID, addr model.HardwareAddr) error {
	logger := dao.Logger.With("query", "update")

	query, args, err := dao.Builder.
		Update("users").
		SetMap(map[string]any{
			"hardware_addr": addr,
			"updated_at":    model.NewTimestamp(time.Now()),
		}).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}

	logger.Debug("build query", "sql", query, "args", args)

	res, err := dao.q.ExecContext(ctx, query, args...)
	if err != nil {
		logger.Warn("failed query execute", "error", err)

		if IsUniqueViolation(err) {
			return model.NewError("hardware address", model.ErrExists)
		}

		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.NewError("user", model.ErrNotFound)
	}

	logger.Debug("success query execute", "updateId", id)

	return nil
}
