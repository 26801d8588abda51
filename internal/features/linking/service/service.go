package service

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"eventapp-telegram-bot/internal/common/errors"
	"eventapp-telegram-bot/internal/common/logger"
	"eventapp-telegram-bot/internal/common/validation"
	accmodels "eventapp-telegram-bot/internal/features/account/models"
	accrepo "eventapp-telegram-bot/internal/features/account/repository"
	idmodels "eventapp-telegram-bot/internal/features/identity/models"
	"eventapp-telegram-bot/internal/features/session/models"
	sessionrepo "eventapp-telegram-bot/internal/features/session/repository"
	tokensvc "eventapp-telegram-bot/internal/features/token/service"
	"eventapp-telegram-bot/internal/metrics"
)

// CommandMarker prefixes bot commands. Such messages are never dialog input.
const CommandMarker = "/"

// Step is the outcome of one linking operation, as shown to the user.
type Step string

const (
	StepIgnored          Step = "ignored"
	StepAlreadyLinked    Step = "already_linked"
	StepAwaitingEmail    Step = "awaiting_email"
	StepInvalidEmail     Step = "invalid_email"
	StepAwaitingPassword Step = "awaiting_password"
	StepInvalidPassword  Step = "invalid_password"
	StepRateLimited      Step = "rate_limited"
	StepLinkFailed       Step = "link_failed"
	StepLinked           Step = "linked"
)

// Result describes what a linking operation did.
type Result struct {
	Step Step
	// Email is the address used by a failed attempt, for diagnostics.
	Email string
	User  *accmodels.User
	Token *tokensvc.Token
	// Err is the user-facing failure for validation, rate-limit and credential steps.
	Err *errors.AppError
}

// IdentityLinker commits a link between a Telegram identity and a user.
type IdentityLinker interface {
	Link(ctx context.Context, c idmodels.ChatIdentity, userID int64) error
}

// TokenIssuer mints bearer tokens for linked users.
type TokenIssuer interface {
	Issue(userID int64, audience string) (*tokensvc.Token, error)
}

// Service drives the account-linking dialog:
//
//	Idle -> AwaitingEmail -> AwaitingPassword -> linked (session deleted)
//	                                           -> AwaitingEmail (credentials rejected, email cleared)
type Service struct {
	sessions   sessionrepo.Store
	identities IdentityLinker
	accounts   accrepo.Repository
	tokens     TokenIssuer
	limiter    *AttemptLimiter
	metrics    metrics.Recorder
	now        func() time.Time
}

func NewService(
	sessions sessionrepo.Store,
	identities IdentityLinker,
	accounts accrepo.Repository,
	tokens TokenIssuer,
	limiter *AttemptLimiter,
	recorder metrics.Recorder,
) *Service {
	if limiter == nil {
		limiter = NewAttemptLimiter(0, 1)
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		sessions:   sessions,
		identities: identities,
		accounts:   accounts,
		tokens:     tokens,
		limiter:    limiter,
		metrics:    recorder,
		now:        time.Now,
	}
}

// BeginLinking starts the dialog for an unlinked identity. Linked identities
// get StepAlreadyLinked and no session is created.
func (s *Service) BeginLinking(ctx context.Context, rec *idmodels.Record) (*Result, error) {
	if rec.IsLinked() {
		s.metrics.RecordLinkOutcome(string(StepAlreadyLinked))
		return &Result{Step: StepAlreadyLinked}, nil
	}
	err := s.sessions.Put(ctx, rec.TelegramID, &models.Session{
		State:     models.StateAwaitingEmail,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return nil, errors.NewStorageError("start linking session", err)
	}
	logger.Debug().Int64("telegram_id", rec.TelegramID).Msg("Linking dialog started")
	return &Result{Step: StepAwaitingEmail}, nil
}

// InProgress reports whether telegramID is in the middle of the dialog.
func (s *Service) InProgress(ctx context.Context, telegramID int64) (bool, error) {
	sess, err := s.sessions.Get(ctx, telegramID)
	if err != nil {
		return false, errors.NewStorageError("load linking session", err)
	}
	return sess.InDialog(), nil
}

// Cancel ends an in-progress dialog. It reports whether there was one.
func (s *Service) Cancel(ctx context.Context, telegramID int64) (bool, error) {
	inDialog, err := s.InProgress(ctx, telegramID)
	if err != nil || !inDialog {
		return false, err
	}
	if err := s.sessions.Delete(ctx, telegramID); err != nil {
		return false, errors.NewStorageError("cancel linking session", err)
	}
	s.metrics.RecordLinkOutcome("cancelled")
	return true, nil
}

// HandleText advances the dialog with one free-text message. The returned
// error is reserved for infrastructure failures, in which case the session
// is left exactly as it was.
func (s *Service) HandleText(ctx context.Context, rec *idmodels.Record, text string) (*Result, error) {
	if strings.HasPrefix(text, CommandMarker) {
		return &Result{Step: StepIgnored}, nil
	}

	var res *Result
	err := s.sessions.Update(ctx, rec.TelegramID, func(cur *models.Session) (*models.Session, error) {
		if !cur.InDialog() {
			res = &Result{Step: StepIgnored}
			return cur, nil
		}
		switch cur.State {
		case models.StateAwaitingEmail:
			next, r := s.acceptEmail(cur, text)
			res = r
			return next, nil
		default:
			next, r, err := s.acceptPassword(ctx, rec, cur, text)
			res = r
			return next, err
		}
	})
	if err != nil && stderrors.Is(err, sessionrepo.ErrConflict) && res != nil && res.Step == StepLinked {
		// The link is durable; only the session write lost the race.
		logger.Warn().Int64("telegram_id", rec.TelegramID).Msg("Session changed concurrently after link commit")
		if derr := s.sessions.Delete(ctx, rec.TelegramID); derr != nil {
			logger.Warn().Err(derr).Int64("telegram_id", rec.TelegramID).Msg("Failed to clear linking session")
		}
		err = nil
	}
	if err != nil {
		if stderrors.Is(err, sessionrepo.ErrConflict) {
			return nil, errors.NewSessionConflictError()
		}
		if _, ok := errors.AsAppError(err); ok {
			return nil, err
		}
		return nil, errors.NewStorageError("update linking session", err)
	}

	if res.Step != StepIgnored {
		s.metrics.RecordLinkOutcome(string(res.Step))
		logger.Debug().
			Int64("telegram_id", rec.TelegramID).
			Str("step", string(res.Step)).
			Msg("Linking dialog advanced")
	}
	return res, nil
}

func (s *Service) acceptEmail(cur *models.Session, text string) (*models.Session, *Result) {
	email := validation.NormalizeEmail(text)
	if !validation.IsEmail(email) {
		next := cur.Clone()
		next.Email = ""
		return next, &Result{
			Step: StepInvalidEmail,
			Err:  errors.NewValidationError("email", "invalid email address"),
		}
	}
	return &models.Session{
		State:     models.StateAwaitingPassword,
		Email:     email,
		UpdatedAt: s.now(),
	}, &Result{Step: StepAwaitingPassword, Email: email}
}

func (s *Service) acceptPassword(ctx context.Context, rec *idmodels.Record, cur *models.Session, password string) (*models.Session, *Result, error) {
	if err := validation.ValidatePassword(password); err != nil {
		return cur, &Result{
			Step: StepInvalidPassword,
			Err:  errors.NewValidationError("password", err.Error()),
		}, nil
	}
	if ok, retryAfter := s.limiter.Allow(rec.TelegramID); !ok {
		return cur, &Result{Step: StepRateLimited, Err: errors.NewRateLimitError(retryAfter)}, nil
	}

	email := cur.Email
	user, err := s.verifyCredentials(ctx, email, password)
	if err == nil {
		err = s.identities.Link(ctx, rec.Identity(), user.ID)
	}
	if err != nil {
		appErr, ok := errors.AsAppError(err)
		if ok && appErr.Code == errors.ErrCodeAlreadyLinked {
			// Linked meanwhile, e.g. through the Mini App. Nothing left to collect.
			return nil, &Result{Step: StepAlreadyLinked, Email: email, Err: appErr}, nil
		}
		if ok && appErr.IsCredentialFailure() {
			// Full reset: both fields must be entered again.
			return &models.Session{State: models.StateAwaitingEmail, UpdatedAt: s.now()},
				&Result{Step: StepLinkFailed, Email: email, Err: appErr}, nil
		}
		// Not committed: keep the session so the user can simply retry.
		return nil, nil, err
	}

	s.limiter.Reset(rec.TelegramID)
	tok, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		// The link is committed; a token can be minted again on demand.
		logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to issue token after link")
	}
	return nil, &Result{Step: StepLinked, Email: email, User: user, Token: tok}, nil
}

// LinkWithCredentials links in one call, for the Mini App endpoint. Any
// in-progress bot dialog for the identity is cleared on success.
func (s *Service) LinkWithCredentials(ctx context.Context, c idmodels.ChatIdentity, email, password string) (*accmodels.User, *tokensvc.Token, error) {
	email = validation.NormalizeEmail(email)
	if !validation.IsEmail(email) {
		return nil, nil, errors.NewValidationError("email", "invalid email address")
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, nil, errors.NewValidationError("password", err.Error())
	}
	if ok, retryAfter := s.limiter.Allow(c.TelegramID); !ok {
		s.metrics.RecordLinkOutcome(string(StepRateLimited))
		return nil, nil, errors.NewRateLimitError(retryAfter)
	}

	user, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		s.metrics.RecordLinkOutcome(string(StepLinkFailed))
		return nil, nil, err
	}
	if err := s.identities.Link(ctx, c, user.ID); err != nil {
		s.metrics.RecordLinkOutcome(string(StepLinkFailed))
		return nil, nil, err
	}
	s.limiter.Reset(c.TelegramID)
	s.metrics.RecordLinkOutcome(string(StepLinked))

	if err := s.sessions.Delete(ctx, c.TelegramID); err != nil {
		logger.Warn().Err(err).Int64("telegram_id", c.TelegramID).Msg("Failed to clear linking session")
	}

	tok, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to issue token")
	}
	return user, tok, nil
}

// verifyCredentials looks the account up by email and checks the password
// with bcrypt, whose comparison is constant-time.
func (s *Service) verifyCredentials(ctx context.Context, email, password string) (*accmodels.User, error) {
	user, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, errors.NewStorageError("find account by email", err)
	}
	if user == nil {
		// Spend the same hashing work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, errors.NewAccountNotFoundError(email)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if !stderrors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.Warn().Err(err).Int64("user_id", user.ID).Msg("Unusable password hash")
		}
		return nil, errors.NewInvalidCredentialsError()
	}
	return user, nil
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("eventapp-dummy-password"), bcrypt.DefaultCost)
	})
	return dummy
}
