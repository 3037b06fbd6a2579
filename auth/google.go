package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"teamspace/apperr"
	"teamspace/metrics"
	"teamspace/types"

	"google.golang.org/api/idtoken"
	"gorm.io/gorm"
)

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// IdentityVerifier checks a third-party ID token.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleIdentity, error)
}

// GoogleIDTokenVerifier checks the token signature against Google's published
// keys, along with issuer, expiry and audience.
type GoogleIDTokenVerifier struct {
	ClientID string
	validate func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(clientID string) *GoogleIDTokenVerifier {
	return &GoogleIDTokenVerifier{ClientID: clientID, validate: idtoken.Validate}
}

func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, idToken string) (GoogleIdentity, error) {
	if v.ClientID == "" {
		return GoogleIdentity{}, fmt.Errorf("google sign-in is not configured")
	}
	payload, err := v.validate(ctx, idToken, v.ClientID)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("validate id token: %w", err)
	}
	return identityFromPayload(payload)
}

func identityFromPayload(payload *idtoken.Payload) (GoogleIdentity, error) {
	email, _ := payload.Claims["email"].(string)
	if payload.Subject == "" || email == "" {
		return GoogleIdentity{}, fmt.Errorf("token missing subject or email")
	}
	// email_verified is a bool in current tokens and a string in older ones.
	verified := false
	switch v := payload.Claims["email_verified"].(type) {
	case bool:
		verified = v
	case string:
		verified = v == "true"
	}
	if !verified {
		return GoogleIdentity{}, fmt.Errorf("email not verified")
	}

	name, _ := payload.Claims["name"].(string)
	picture, _ := payload.Claims["picture"].(string)
	return GoogleIdentity{
		Subject: payload.Subject,
		Email:   strings.ToLower(email),
		Name:    name,
		Picture: picture,
	}, nil
}

// GoogleSignIn links by Google subject, then by email, then creates a user.
func (s *Service) GoogleSignIn(ctx context.Context, idToken string) (string, types.User, error) {
	if strings.TrimSpace(idToken) == "" {
		return "", types.User{}, apperr.Validation("token is required")
	}
	if s.google == nil {
		return "", types.User{}, apperr.Validation("google sign-in is not configured")
	}
	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		metrics.AuthErrors.WithLabelValues("google").Inc()
		return "", types.User{}, apperr.Validation("invalid google token")
	}

	var user types.User
	err = s.db.WithContext(ctx).Where("google_id = ?", identity.Subject).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.WithContext(ctx).Where("email = ?", identity.Email).First(&user).Error
		switch {
		case err == nil:
			if user.GoogleID != nil && *user.GoogleID != identity.Subject {
				metrics.AuthErrors.WithLabelValues("google").Inc()
				return "", types.User{}, apperr.Conflict("this email is linked to a different google account")
			}
			updates := map[string]interface{}{"google_id": identity.Subject}
			if user.Name == "" {
				updates["name"] = identity.Name
			}
			if user.AvatarURL == "" {
				updates["avatar_url"] = identity.Picture
			}
			err = s.db.WithContext(ctx).Model(&user).Updates(updates).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			subject := identity.Subject
			user = types.User{
				Email:     identity.Email,
				Name:      identity.Name,
				AvatarURL: identity.Picture,
				GoogleID:  &subject,
			}
			err = s.db.WithContext(ctx).Create(&user).Error
		}
	}
	if err != nil {
		return "", types.User{}, apperr.Internal("google sign-in", err)
	}

	token, err := s.sessions.Issue(user)
	if err != nil {
		return "", types.User{}, apperr.Internal("issue session", err)
	}
	return token, user, nil
}
