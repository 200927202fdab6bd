package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/dto"
	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/app/types"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName        = "github.com/vibast-solutions/ms-go-accounts/app/service"
	topLastNamesSize = 5
)

// SessionProvider hands out one pooled connection per unit of work.
type SessionProvider interface {
	Session(ctx context.Context, fn func(conn *sql.Conn) error) error
}

// ResetMailer delivers password reset links. It reports failure instead of returning an error.
type ResetMailer interface {
	SendResetLink(ctx context.Context, email, token string) bool
}

type AccountService interface {
	ListUsers(ctx context.Context) ([]*entity.User, error)
	Register(ctx context.Context, req *types.RegisterRequest) (*dto.Session, error)
	Login(ctx context.Context, req *types.LoginRequest) (*dto.Session, error)
	CurrentUser(token string) (*Claims, error)
	UpdateUser(ctx context.Context, actorID uint64, req *types.UpdateUserRequest) (*dto.UpdateUserResult, error)
	DeleteUser(ctx context.Context, actorID, userID uint64) error
	ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error
	GetUser(ctx context.Context, userID uint64) (*entity.User, error)
	CountUsers(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*dto.UserStats, error)
	ProvisionUser(ctx context.Context, req *types.ProvisionUserRequest) (*entity.User, bool, error)
	ClearPendingResets(ctx context.Context) (int64, error)
}

type AsyncRunner func(task func())

type AccountServiceOption func(*accountService)

type accountService struct {
	sessions    SessionProvider
	creds       *Credentials
	mailer      ResetMailer
	policy      config.PasswordPolicy
	mailTimeout time.Duration
	asyncRunner AsyncRunner

	logins metric.Int64Counter
	resets metric.Int64Counter
}

func NewAccountService(
	sessions SessionProvider,
	creds *Credentials,
	mailer ResetMailer,
	policy config.PasswordPolicy,
	opts ...AccountServiceOption,
) AccountService {
	svc := &accountService{
		sessions:    sessions,
		creds:       creds,
		mailer:      mailer,
		policy:      policy,
		mailTimeout: 30 * time.Second,
		asyncRunner: func(task func()) {
			go task()
		},
	}
	for _, opt := range opts {
		opt(svc)
	}

	meter := otel.Meter(meterName)
	var err error
	if svc.logins, err = meter.Int64Counter("accounts.logins",
		metric.WithDescription("Login attempts by outcome")); err != nil {
		logrus.WithError(err).Warn("failed to create login counter")
	}
	if svc.resets, err = meter.Int64Counter("accounts.password_resets",
		metric.WithDescription("Password reset requests and completions")); err != nil {
		logrus.WithError(err).Warn("failed to create password reset counter")
	}
	return svc
}

func WithAsyncRunner(runner AsyncRunner) AccountServiceOption {
	return func(s *accountService) {
		if runner != nil {
			s.asyncRunner = runner
		}
	}
}

// WithMailTimeout bounds a single reset mail delivery.
func WithMailTimeout(d time.Duration) AccountServiceOption {
	return func(s *accountService) {
		if d > 0 {
			s.mailTimeout = d
		}
	}
}

func (s *accountService) withUsers(ctx context.Context, fn func(users *repository.UserRepository) error) error {
	return s.sessions.Session(ctx, func(conn *sql.Conn) error {
		return fn(repository.NewUserRepository(conn))
	})
}

func (s *accountService) count(ctx context.Context, counter metric.Int64Counter, key, value string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String(key, value)))
}

func (s *accountService) ListUsers(ctx context.Context) ([]*entity.User, error) {
	var users []*entity.User
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		users, err = repo.FindAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *accountService) Register(ctx context.Context, req *types.RegisterRequest) (*dto.Session, error) {
	if err := s.policy.Validate(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := s.creds.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &entity.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        NormalizeEmail(req.Email),
		PasswordHash: hashedPassword,
	}

	err = s.withUsers(ctx, func(repo *repository.UserRepository) error {
		id, err := repo.AddOne(ctx, repository.UserInsertFields(user))
		if err != nil {
			return err
		}
		user.ID = id
		return nil
	})
	if repository.IsConflict(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}

	return s.issueSession(user)
}

func (s *accountService) Login(ctx context.Context, req *types.LoginRequest) (*dto.Session, error) {
	user, err := s.findByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.count(ctx, s.logins, "outcome", "unknown_email")
		return nil, ErrUnknownEmail
	}

	if !s.creds.VerifyPassword(req.Password, user.PasswordHash) {
		s.count(ctx, s.logins, "outcome", "wrong_password")
		return nil, ErrWrongPassword
	}

	s.count(ctx, s.logins, "outcome", "success")
	return s.issueSession(user)
}

func (s *accountService) CurrentUser(token string) (*Claims, error) {
	return s.creds.VerifySessionToken(token)
}

func (s *accountService) UpdateUser(ctx context.Context, actorID uint64, req *types.UpdateUserRequest) (*dto.UpdateUserResult, error) {
	if actorID != req.UserID {
		return nil, ErrForbidden
	}

	var user *entity.User
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		user, err = repo.UpdateOne(ctx, req.UserID, repository.Fields{
			repository.F(repository.UserColFirstName, req.FirstName),
			repository.F(repository.UserColLastName, req.LastName),
			repository.F(repository.UserColEmail, NormalizeEmail(req.Email)),
		})
		return err
	})
	if repository.IsConflict(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	session, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}
	return &dto.UpdateUserResult{User: user, Session: session}, nil
}

func (s *accountService) DeleteUser(ctx context.Context, actorID, userID uint64) error {
	if actorID != userID {
		return ErrForbidden
	}

	var removed bool
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		removed, err = repo.RemoveOne(ctx, userID)
		return err
	})
	if err != nil {
		return err
	}
	if !removed {
		return ErrUserNotFound
	}
	return nil
}

// ForgotPassword stores a fresh reset token and mails it. The token stays
// stored when delivery fails.
func (s *accountService) ForgotPassword(ctx context.Context, req *types.ForgotPasswordRequest) error {
	user, err := s.findByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	token, err := GenerateResetToken()
	if err != nil {
		return err
	}

	var updated *entity.User
	err = s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		updated, err = repo.UpdateOne(ctx, user.ID, repository.Fields{
			repository.F(repository.UserColResetToken, token),
		})
		return err
	})
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("failed to persist reset token")
		return ErrInternal
	}
	if updated == nil {
		logrus.WithField("user_id", user.ID).Error("user vanished while persisting reset token")
		return ErrInternal
	}
	s.count(ctx, s.resets, "stage", "requested")

	result := make(chan bool, 1)
	s.asyncRunner(func() {
		mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)
		defer cancel()

		result <- s.mailer.SendResetLink(mailCtx, updated.Email, token)
	})

	select {
	case sent := <-result:
		if !sent {
			logrus.WithFields(logrus.Fields{
				"user_id":   user.ID,
				"recipient": updated.Email,
			}).Error("failed to send reset mail")
			return ErrInternal
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrInternal, ctx.Err())
	}
}

func (s *accountService) ResetPassword(ctx context.Context, req *types.ResetPasswordRequest) error {
	if err := s.policy.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	var user *entity.User
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		user, err = repo.FindOne(ctx, repository.Fields{repository.F(repository.UserColResetToken, req.Token)})
		return err
	})
	if err != nil {
		return err
	}
	if user == nil {
		return ErrResetTokenNotFound
	}

	hashedPassword, err := s.creds.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	// The write only matches while the token is still stored, so a concurrent
	// reset with the same token loses.
	var matched int64
	err = s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		matched, err = repo.UpdateWhere(ctx,
			repository.Fields{
				repository.F(repository.UserColID, user.ID),
				repository.F(repository.UserColResetToken, req.Token),
			},
			repository.Fields{
				repository.F(repository.UserColPassword, hashedPassword),
				repository.F(repository.UserColResetToken, nil),
			},
		)
		return err
	})
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrResetTokenNotFound
	}

	s.count(ctx, s.resets, "stage", "completed")
	return nil
}

func (s *accountService) GetUser(ctx context.Context, userID uint64) (*entity.User, error) {
	var user *entity.User
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		user, err = repo.FindOne(ctx, repository.Fields{repository.F(repository.UserColID, userID)})
		return err
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *accountService) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		n, err = repo.Count(ctx, nil)
		return err
	})
	return n, err
}

func (s *accountService) Stats(ctx context.Context) (*dto.UserStats, error) {
	stats := &dto.UserStats{}
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		total, err := repo.Count(ctx, nil)
		if err != nil {
			return err
		}
		withoutReset, err := repo.Count(ctx, repository.Fields{repository.F(repository.UserColResetToken, nil)})
		if err != nil {
			return err
		}
		stats.TotalUsers = total
		stats.PendingResets = total - withoutReset

		lo, err := repo.Min(ctx, repository.UserColID, nil)
		if err != nil {
			return err
		}
		hi, err := repo.Max(ctx, repository.UserColID, nil)
		if err != nil {
			return err
		}
		stats.MinUserID = nullUint64(lo)
		stats.MaxUserID = nullUint64(hi)

		groups, err := repo.GroupBy(ctx, repository.UserColLastName, repository.UserColID, repository.AggCount, nil)
		if err != nil {
			return err
		}
		stats.TopLastNames = topLastNames(groups, topLastNamesSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ProvisionUser creates the account for req.Email or refreshes its names when
// it already exists. The password is only applied on creation.
func (s *accountService) ProvisionUser(ctx context.Context, req *types.ProvisionUserRequest) (*entity.User, bool, error) {
	if err := s.policy.Validate(req.Password); err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}
	hashedPassword, err := s.creds.HashPassword(req.Password)
	if err != nil {
		return nil, false, err
	}

	var (
		user    *entity.User
		created bool
	)
	err = s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		user, created, err = repo.UpdateOrCreate(ctx,
			repository.Fields{repository.F(repository.UserColEmail, NormalizeEmail(req.Email))},
			repository.Fields{
				repository.F(repository.UserColFirstName, req.FirstName),
				repository.F(repository.UserColLastName, req.LastName),
			},
			repository.Fields{repository.F(repository.UserColPassword, hashedPassword)},
		)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// ClearPendingResets invalidates every outstanding reset token and returns how
// many rows were touched.
func (s *accountService) ClearPendingResets(ctx context.Context) (int64, error) {
	var cleared int64
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		rows, err := repo.RawQuery(ctx, "SELECT id FROM users WHERE reset_token IS NOT NULL")
		if err != nil {
			return err
		}
		items := make([]repository.Fields, 0, len(rows))
		for _, row := range rows {
			items = append(items, repository.Fields{
				repository.F(repository.UserColID, row[repository.UserColID]),
				repository.F(repository.UserColResetToken, nil),
			})
		}
		cleared, err = repo.BulkUpdate(ctx, items, repository.UserColID)
		return err
	})
	return cleared, err
}

func (s *accountService) findByEmail(ctx context.Context, email string) (*entity.User, error) {
	var user *entity.User
	err := s.withUsers(ctx, func(repo *repository.UserRepository) error {
		var err error
		user, err = repo.FindOne(ctx, repository.Fields{repository.F(repository.UserColEmail, NormalizeEmail(email))})
		return err
	})
	return user, err
}

func (s *accountService) issueSession(user *entity.User) (*dto.Session, error) {
	token, expiresAt, err := s.creds.IssueSessionToken(user.ID, SessionClaims{
		Role:      RoleUser,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
	if err != nil {
		return nil, err
	}
	return &dto.Session{UserID: user.ID, Token: token, ExpiresAt: expiresAt}, nil
}

func nullUint64(v sql.Null[any]) *uint64 {
	if !v.Valid {
		return nil
	}
	n, ok := toUint64(v.V)
	if !ok {
		return nil
	}
	return &n
}

func toUint64(v any) (uint64, bool) {
	switch t := v.(type) {
	case int64:
		return uint64(t), t >= 0
	case uint64:
		return t, true
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func topLastNames(groups []repository.Group, limit int) []dto.LastNameCount {
	out := make([]dto.LastNameCount, 0, len(groups))
	for _, g := range groups {
		name, _ := g.Key.(string)
		n, ok := toUint64(g.Value)
		if !ok {
			continue
		}
		out = append(out, dto.LastNameCount{LastName: name, Users: int64(n)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Users != out[j].Users {
			return out[i].Users > out[j].Users
		}
		return out[i].LastName < out[j].LastName
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// IsClientError reports whether err is an expected outcome of bad input
// rather than a backend failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrUserExists, ErrUserNotFound, ErrResetTokenNotFound, ErrInvalidCredentials,
		ErrUnauthenticated, ErrForbidden, ErrWeakPassword,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
