package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"teamspace/apperr"
	"teamspace/mailer"
	"teamspace/metrics"
	"teamspace/types"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	errNoPendingCode = "invalid or expired code"
	errCodeExpired   = "code expired"
	errCodeMismatch  = "invalid code"
)

// Service implements one-time-code login/signup, email change and Google sign-in.
type Service struct {
	db       *gorm.DB
	sessions *Sessions
	mail     mailer.Mailer
	google   IdentityVerifier
	codeTTL  time.Duration
	log      *zap.Logger

	now      func() time.Time
	newCode  func() (string, error)
	hashCost int
}

func NewService(gdb *gorm.DB, sessions *Sessions, m mailer.Mailer, google IdentityVerifier, codeTTL time.Duration, log *zap.Logger) *Service {
	return &Service{
		db:       gdb,
		sessions: sessions,
		mail:     m,
		google:   google,
		codeTTL:  codeTTL,
		log:      log,
		now:      time.Now,
		newCode:  generateCode,
		hashCost: bcrypt.DefaultCost,
	}
}

// generateCode returns a zero-padded 6 digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Validation("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperr.Validation("invalid email address")
	}
	return email, nil
}

func (s *Service) issueCode() (code, hash string, expires time.Time, err error) {
	code, err = s.newCode()
	if err != nil {
		return "", "", time.Time{}, apperr.Internal("generate code", err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return "", "", time.Time{}, apperr.Internal("hash code", err)
	}
	return code, string(hashed), s.now().Add(s.codeTTL).UTC(), nil
}

// checkCode applies the shared rules: a code must be pending, unexpired, and match.
// Expiry is checked first so a late but correct code reports "code expired".
func (s *Service) checkCode(hash string, expiresAt *time.Time, code string) error {
	if hash == "" || expiresAt == nil {
		return apperr.Validation(errNoPendingCode)
	}
	if s.now().After(*expiresAt) {
		return apperr.Validation(errCodeExpired)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))) != nil {
		return apperr.Validation(errCodeMismatch)
	}
	return nil
}

func (s *Service) sendCode(ctx context.Context, to, intro, code string) error {
	body, err := mailer.RenderCode(intro, code, int(s.codeTTL.Minutes()))
	if err != nil {
		return apperr.Internal("render code email", err)
	}
	if err := s.mail.Send(ctx, to, "Your verification code", body); err != nil {
		return apperr.Internal("send code email", err)
	}
	return nil
}

// SendLoginCode stores a fresh login code for email and mails it. Unknown
// emails get a pending signup so verification can create the user.
func (s *Service) SendLoginCode(ctx context.Context, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	code, hash, expires, err := s.issueCode()
	if err != nil {
		return err
	}

	var user types.User
	err = s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		err = s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
			"login_code_hash":       hash,
			"login_code_expires_at": expires,
		}).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		pending := types.PendingSignup{Email: email, CodeHash: hash, ExpiresAt: expires}
		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"code_hash", "expires_at", "updated_at"}),
		}).Create(&pending).Error
	}
	if err != nil {
		return apperr.Internal("store login code", err)
	}

	if err := s.sendCode(ctx, email, "Your sign-in code:", code); err != nil {
		return err
	}
	metrics.OTPIssued.WithLabelValues("login").Inc()
	return nil
}

// VerifyLoginCode consumes a login code and returns a session token. The first
// successful verification for an unknown email creates the user.
func (s *Service) VerifyLoginCode(ctx context.Context, rawEmail, code string) (string, types.User, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return "", types.User{}, err
	}
	if strings.TrimSpace(code) == "" {
		return "", types.User{}, apperr.Validation("otp is required")
	}

	var user types.User
	err = s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		if err := s.checkCode(user.LoginCodeHash, user.LoginCodeExpiresAt, code); err != nil {
			metrics.AuthErrors.WithLabelValues("otp").Inc()
			return "", types.User{}, err
		}
		// Conditional on the hash so two concurrent verifications cannot both consume it.
		res := s.db.WithContext(ctx).Model(&types.User{}).
			Where("id = ? AND login_code_hash = ?", user.ID, user.LoginCodeHash).
			Updates(map[string]interface{}{"login_code_hash": "", "login_code_expires_at": nil})
		if res.Error != nil {
			return "", types.User{}, apperr.Internal("clear login code", res.Error)
		}
		if res.RowsAffected != 1 {
			return "", types.User{}, apperr.Validation(errNoPendingCode)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		user, err = s.completeSignup(ctx, email, code)
		if err != nil {
			return "", types.User{}, err
		}
	default:
		return "", types.User{}, apperr.Internal("load user", err)
	}

	token, err := s.sessions.Issue(user)
	if err != nil {
		return "", types.User{}, apperr.Internal("issue session", err)
	}
	return token, user, nil
}

func (s *Service) completeSignup(ctx context.Context, email, code string) (types.User, error) {
	var pending types.PendingSignup
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&pending).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.User{}, apperr.Validation(errNoPendingCode)
		}
		return types.User{}, apperr.Internal("load pending signup", err)
	}
	expires := pending.ExpiresAt
	if err := s.checkCode(pending.CodeHash, &expires, code); err != nil {
		metrics.AuthErrors.WithLabelValues("otp").Inc()
		return types.User{}, err
	}

	user := types.User{Email: email, Name: strings.SplitN(email, "@", 2)[0]}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("email = ? AND code_hash = ?", email, pending.CodeHash).Delete(&types.PendingSignup{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperr.Validation(errNoPendingCode)
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			return types.User{}, err
		}
		return types.User{}, apperr.Internal("create user", err)
	}
	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return user, nil
}

// RequestEmailChange mails a confirmation code to newEmail. It uses its own
// code pair so a pending login code stays valid.
func (s *Service) RequestEmailChange(ctx context.Context, userID, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	user, err := s.User(ctx, userID)
	if err != nil {
		return err
	}
	if user.Email == email {
		return apperr.Validation("new email matches the current one")
	}
	if taken, err := s.emailTaken(ctx, email); err != nil {
		return err
	} else if taken {
		return apperr.Conflict("email already in use")
	}

	code, hash, expires, err := s.issueCode()
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"pending_email":         email,
		"email_code_hash":       hash,
		"email_code_expires_at": expires,
	}).Error
	if err != nil {
		return apperr.Internal("store email change code", err)
	}

	if err := s.sendCode(ctx, email, "Confirm your new email address with this code:", code); err != nil {
		return err
	}
	metrics.OTPIssued.WithLabelValues("email_change").Inc()
	return nil
}

func (s *Service) ConfirmEmailChange(ctx context.Context, userID, code string) (types.User, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return types.User{}, err
	}
	if user.PendingEmail == "" {
		return types.User{}, apperr.Validation(errNoPendingCode)
	}
	if err := s.checkCode(user.EmailCodeHash, user.EmailCodeExpiresAt, code); err != nil {
		metrics.AuthErrors.WithLabelValues("email_change").Inc()
		return types.User{}, err
	}
	if taken, err := s.emailTaken(ctx, user.PendingEmail); err != nil {
		return types.User{}, err
	} else if taken {
		return types.User{}, apperr.Conflict("email already in use")
	}

	res := s.db.WithContext(ctx).Model(&types.User{}).
		Where("id = ? AND email_code_hash = ?", user.ID, user.EmailCodeHash).
		Updates(map[string]interface{}{
			"email":                 user.PendingEmail,
			"pending_email":         "",
			"email_code_hash":       "",
			"email_code_expires_at": nil,
		})
	if res.Error != nil {
		return types.User{}, apperr.Internal("apply email change", res.Error)
	}
	if res.RowsAffected != 1 {
		return types.User{}, apperr.Validation(errNoPendingCode)
	}
	return s.User(ctx, userID)
}

func (s *Service) emailTaken(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&types.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, apperr.Internal("check email", err)
	}
	return count > 0, nil
}

func (s *Service) User(ctx context.Context, userID string) (types.User, error) {
	var user types.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return types.User{}, apperr.FromDB(err, "user not found")
	}
	return user, nil
}

// UpdateProfile changes the fields that are non-nil.
func (s *Service) UpdateProfile(ctx context.Context, userID string, name, avatarURL *string) (types.User, error) {
	updates := map[string]interface{}{}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return types.User{}, apperr.Validation("name cannot be empty")
		}
		updates["name"] = trimmed
	}
	if avatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*avatarURL)
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return types.User{}, apperr.Internal("update profile", err)
		}
	}
	return s.User(ctx, userID)
}
