package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/protomem/attendance-tracker/internal/database"
	"github.com/protomem/attendance-tracker/internal/model"
	"github.com/protomem/attendance-tracker/internal/presence"
	"github.com/protomem/attendance-tracker/internal/request"
	"github.com/protomem/attendance-tracker/internal/response"
	"github.com/protomem/attendance-tracker/internal/scheduler"
	"github.com/protomem/attendance-tracker/internal/validator"
	"github.com/protomem/attendance-tracker/internal/version"
)

func (app *application) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := response.JSON(w, http.StatusOK, responseStatus{
		Status:       "OK",
		Version:      version.Get(),
		PresentUsers: len(app.tracker.Present()),
		LastCycle:    newResponseCycle(app.scheduler.Status()),
	}); err != nil {
		app.serverError(w, r, err)
	}
}

type responseStatus struct {
	Status       string        `json:"status"`
	Version      string        `json:"version"`
	PresentUsers int           `json:"presentUsers"`
	LastCycle    responseCycle `json:"lastCycle"`
}

type responseCycle struct {
	Cycles     uint64           `json:"cycles"`
	StartedAt  time.Time        `json:"startedAt"`
	DurationMs int64            `json:"durationMs"`
	Skipped    bool             `json:"skipped"`
	Error      string           `json:"error,omitempty"`
	Report     *presence.Report `json:"report,omitempty"`
}

func newResponseCycle(status scheduler.CycleStatus) responseCycle {
	return responseCycle{
		Cycles:     status.Cycles,
		StartedAt:  status.StartedAt,
		DurationMs: status.Duration.Milliseconds(),
		Skipped:    status.Skipped,
		Error:      status.Error,
		Report:     status.Report,
	}
}

func (app *application) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := app.scheduler.Config()

	if err := response.JSON(w, http.StatusOK, responseConfig{
		ScanInterval:    int64(cfg.ScanInterval.Seconds()),
		DebounceWindow:  int64(cfg.DebounceWindow.Seconds()),
		ScanTimeout:     int64(cfg.ScanTimeout.Seconds()),
		Ranges:          cfg.Ranges,
		ActiveHours:     cfg.ActiveHours.String(),
		ForceLogoutHour: cfg.ForceLogoutHour,
	}); err != nil {
		app.serverError(w, r, err)
	}
}

type responseConfig struct {
	ScanInterval    int64    `json:"scanIntervalSeconds"`
	DebounceWindow  int64    `json:"debounceWindowSeconds"`
	ScanTimeout     int64    `json:"scanTimeoutSeconds"`
	Ranges          []string `json:"ranges"`
	ActiveHours     string   `json:"activeHours"`
	ForceLogoutHour int      `json:"forceLogoutHour"`
}

func (app *application) handlePresence(w http.ResponseWriter, r *http.Request) {
	present := app.tracker.Present()

	users := make([]presentUser, 0, len(present))
	for _, p := range present {
		user, ok := app.directory.Lookup(p.User)
		if !ok {
			continue
		}
		users = append(users, presentUser{
			User:  user,
			State: p.State,
		})
	}

	if err := response.JSON(w, http.StatusOK, responsePresence{Users: users}); err != nil {
		app.serverError(w, r, err)
	}
}

type presentUser struct {
	User  model.User     `json:"user"`
	State presence.State `json:"state"`
}

type responsePresence struct {
	Users []presentUser `json:"users"`
}

func (app *application) handleFindUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		v       validator.Validator
		filter  database.FindUserFilter
		options = database.FindOptions{
			Limit:  defaultIntQueryParams(r, "limit", 100),
			Offset: defaultIntQueryParams(r, "offset", 0),
		}
	)

	filter.Name = optionalStringQueryParams(r, "name")
	if role := optionalStringQueryParams(r, "role"); role != nil {
		parsed := validateRole(&v, *role)
		filter.Role = &parsed
	}
	if addr := optionalStringQueryParams(r, "hardwareAddr"); addr != nil {
		parsed := validateHardwareAddr(&v, *addr)
		filter.HardwareAddr = &parsed
	}
	validateFindOptions(&v, options.Limit, options.Offset)

	if v.HasErrors() {
		app.failedValidation(w, r, v)
		return
	}

	users, err := database.NewUserDAO(app.requestLogger(r), app.db).Find(ctx, filter, options)
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	if err := response.JSON(w, http.StatusOK, responseUsers{Users: users}); err != nil {
		app.serverError(w, r, err)
	}
}

type responseUsers struct {
	Users []model.User `json:"users"`
}

func (app *application) handleAddUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input requestAddUser
	if err := request.DecodeJSONStrict(w, r, &input); err != nil {
		app.badRequest(w, r, err)
		return
	}

	var v validator.Validator
	validateUserName(&v, input.Name)
	role := validateRole(&v, input.Role)

	var addr *model.HardwareAddr
	if input.HardwareAddr != nil {
		parsed := validateHardwareAddr(&v, *input.HardwareAddr)
		addr = &parsed
	}

	if v.HasErrors() {
		app.failedValidation(w, r, v)
		return
	}

	user, err := app.directory.Create(ctx, input.Name, role, addr)
	if err != nil {
		if errors.Is(err, model.ErrExists) {
			app.errorMessage(w, r, http.StatusConflict, err.Error(), nil)
			return
		}

		app.serverError(w, r, err)
		return
	}

	if err := response.JSON(w, http.StatusCreated, responseUser{User: user}); err != nil {
		app.serverError(w, r, err)
	}
}

type requestAddUser struct {
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	HardwareAddr *string `json:"hardwareAddr"`
}

type responseUser struct {
	User model.User `json:"user"`
}

func (app *application) handleBindHardwareAddr(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := userIDFromRequest(r)
	if err != nil {
		app.badRequest(w, r, err)
		return
	}

	var input requestBindHardwareAddr
	if err := request.DecodeJSONStrict(w, r, &input); err != nil {
		app.badRequest(w, r, err)
		return
	}

	var v validator.Validator
	addr := validateHardwareAddr(&v, input.HardwareAddr)

	if v.HasErrors() {
		app.failedValidation(w, r, v)
		return
	}

	if err := app.directory.Register(ctx, userID, addr, input.Reassign); err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			app.errorMessage(w, r, http.StatusNotFound, err.Error(), nil)
		case errors.Is(err, model.ErrExists):
			app.errorMessage(w, r, http.StatusConflict, err.Error(), nil)
		default:
			app.serverError(w, r, err)
		}
		return
	}

	user, _ := app.directory.Lookup(userID)

	if err := response.JSON(w, http.StatusOK, responseUser{User: user}); err != nil {
		app.serverError(w, r, err)
	}
}

type requestBindHardwareAddr struct {
	HardwareAddr string `json:"hardwareAddr"`
	Reassign     bool   `json:"reassign"`
}

func (app *application) handleUserHours(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := app.userFromRequest(w, r)
	if !ok {
		return
	}

	total, err := database.NewSessionDAO(app.requestLogger(r), app.db).TotalPresence(ctx, user.ID, time.Now())
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	if err := response.JSON(w, http.StatusOK, newUserHours(user.ID, user.Name, user.Role, total)); err != nil {
		app.serverError(w, r, err)
	}
}

func (app *application) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := app.userFromRequest(w, r)
	if !ok {
		return
	}

	sessions, err := database.NewSessionDAO(app.requestLogger(r), app.db).ListByUser(ctx, user.ID)
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	if err := response.JSON(w, http.StatusOK, responseSessions{Sessions: sessions}); err != nil {
		app.serverError(w, r, err)
	}
}

type responseSessions struct {
	Sessions []model.Session `json:"sessions"`
}

func (app *application) handleTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totals, err := database.NewSessionDAO(app.requestLogger(r), app.db).Totals(ctx, time.Now())
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	hours := make([]userHours, 0, len(totals))
	for _, t := range totals {
		hours = append(hours, newUserHours(t.User, t.Name, t.Role, t.Total()))
	}

	if err := response.JSON(w, http.StatusOK, responseTotals{Users: hours}); err != nil {
		app.serverError(w, r, err)
	}
}

type userHours struct {
	User    model.ID   `json:"userId"`
	Name    string     `json:"name"`
	Role    model.Role `json:"role"`
	Seconds int64      `json:"seconds"`
	Hours   float64    `json:"hours"`
}

func newUserHours(id model.ID, name string, role model.Role, total time.Duration) userHours {
	return userHours{
		User:    id,
		Name:    name,
		Role:    role,
		Seconds: int64(total.Seconds()),
		Hours:   total.Hours(),
	}
}

type responseTotals struct {
	Users []userHours `json:"users"`
}

// userFromRequest writes the error response itself when ok is false.
func (app *application) userFromRequest(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		app.badRequest(w, r, err)
		return model.User{}, false
	}

	user, ok := app.directory.Lookup(userID)
	if !ok {
		app.errorMessage(w, r, http.StatusNotFound, model.NewError("user", model.ErrNotFound).Error(), nil)
		return model.User{}, false
	}

	return user, true
}
