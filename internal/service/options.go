package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/apierrors"
	"github.com/goatkit/phonedesk/internal/directory"
	"github.com/goatkit/phonedesk/internal/events"
	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/metrics"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/repository"
	"github.com/goatkit/phonedesk/internal/services/permission"
)

// Clock returns the current time.
type Clock func() time.Time

type options struct {
	logger    *zap.Logger
	clock     Clock
	locker    keylock.Locker
	publisher events.Publisher
	metrics   *metrics.Collectors
	newID     func() string
}

// Option configures the asset, transfer and inventory services.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		clock:     time.Now,
		locker:    keylock.NewMemory(),
		publisher: events.Nop{},
		newID:     uuid.NewString,
	}
}

// WithLogger injects a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLocker sets the per-key locker. Services that must serialise against
// each other have to share one locker.
func WithLocker(l keylock.Locker) Option {
	return func(o *options) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithPublisher sets where domain events go after commit.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithMetrics records operation counts and latencies.
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDGenerator overrides the id source for new records.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// core holds what every service shares.
type core struct {
	options
	store repository.Store
	dir   directory.Directory
}

func newCore(store repository.Store, dir directory.Directory, opts []Option) core {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return core{options: o, store: store, dir: dir}
}

func (c *core) now() time.Time {
	return c.clock()
}

// observe starts an operation measurement; call the result with the final error.
func (c *core) observe(op string) func(err error) {
	done := c.metrics.ObserveOperation(op)
	return func(err error) {
		result := "ok"
		if err != nil {
			result = string(apierrors.KindOf(err))
		}
		done(result)
		if err != nil && apierrors.KindOf(err) == apierrors.KindInternal {
			c.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
		}
	}
}

// withKey runs fn while holding key.
func (c *core) withKey(ctx context.Context, key string, fn func() error) error {
	unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		return apierrors.Internal(err, "failed to lock %s", key)
	}
	defer unlock()
	return fn()
}

// publish hands events to the publisher after a successful commit. Failures
// are logged; the committed operation still succeeds.
func (c *core) publish(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		if err := c.publisher.Publish(ctx, ev); err != nil {
			c.logger.Warn("failed to publish event",
				zap.String("event_id", ev.ID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}

// user loads the administrator behind actor, or nil for employee-only actors.
func (c *core) user(ctx context.Context, actor models.Actor) (*models.User, error) {
	switch actor.UserID {
	case 0:
		return nil, nil
	case models.SystemUserID:
		return &models.User{ID: models.SystemUserID, Login: "system", IsSuperAdmin: true}, nil
	}
	u, err := c.dir.GetUser(ctx, actor.UserID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, apierrors.Forbidden(apierrors.CodeUserNotFound, "unknown user %d", actor.UserID)
	}
	if err != nil {
		return nil, apierrors.Internal(err, "failed to load user")
	}
	if permission.UsesLegacyRole(u) {
		c.logger.Warn("legacy role permissions in use; migrate to grants",
			zap.Int64("user_id", u.ID), zap.String("role", u.Role))
	}
	return u, nil
}

// allowed reports whether actor's administrator holds required on departmentID.
func (c *core) allowed(ctx context.Context, actor models.Actor, departmentID int64, required models.Scope) (bool, error) {
	u, err := c.user(ctx, actor)
	if err != nil || u == nil {
		return false, err
	}
	return permission.Allows(u, departmentID, required), nil
}

func (c *core) requireScope(ctx context.Context, actor models.Actor, departmentID int64, required models.Scope) error {
	ok, err := c.allowed(ctx, actor, departmentID, required)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.Forbidden(apierrors.CodeForbidden, "%s permission required on department %d", required, departmentID)
	}
	return nil
}

func (c *core) employee(ctx context.Context, id int64) (*models.Employee, error) {
	e, err := c.dir.GetEmployee(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, apierrors.NotFound(apierrors.CodeEmployeeNotFound, "employee %d not found", id)
	}
	if err != nil {
		return nil, apierrors.Internal(err, "failed to load employee")
	}
	return e, nil
}

func activeEmployee(e *models.Employee) error {
	if !e.IsActive() {
		return apierrors.Validation(apierrors.CodeEmployeeDeparted, "employee %d has departed", e.ID)
	}
	return nil
}

func loadAsset(ctx context.Context, repo repository.AssetRepository, phone string) (*models.PhoneAsset, error) {
	a, err := repo.GetAsset(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierrors.NotFound(apierrors.CodeAssetNotFound, "phone asset %s not found", phone)
	}
	if err != nil {
		return nil, apierrors.Internal(err, "failed to load asset")
	}
	return a, nil
}

func noPendingTransfer(ctx context.Context, repo repository.TransferRepository, phone string) error {
	pending, err := repo.PendingTransfer(ctx, phone)
	if err != nil {
		return apierrors.Internal(err, "failed to check pending transfers")
	}
	if pending != nil {
		return apierrors.Conflict(apierrors.CodeAssetTransferPending,
			"phone asset %s has pending transfer %s", phone, pending.ID)
	}
	return nil
}

// storeErr passes typed errors through and wraps everything else.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var typed *apierrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	return apierrors.Internal(err, "failed to %s", what)
}
