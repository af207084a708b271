package auth

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/notes-bin/crystal/internal/mail"
	"github.com/notes-bin/crystal/internal/model"
	"github.com/notes-bin/crystal/internal/redis"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidGalleryID   = errors.New("gallery id must be 3-32 letters, digits, '-' or '_'")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrUserNotFound       = errors.New("user not found")
)

var galleryIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

type Options struct {
	ResetURL string                  // link target in reset emails
	ResetTTL time.Duration           // lifetime of reset tokens
	IsAdmin  func(email string) bool // grants admin at registration
	Cost     int                     // bcrypt cost, bcrypt.DefaultCost when 0
}

type Auth struct {
	secret string
	redis  *redis.Client
	mailer mail.Mailer
	opts   Options
}

// Claims is the JWT payload. UserID is the gallery id.
type Claims struct {
	UserID  string `json:"user_id"`
	UID     string `json:"uid"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func NewAuth(secret string, redis *redis.Client, mailer mail.Mailer, opts Options) *Auth {
	if opts.ResetTTL == 0 {
		opts.ResetTTL = time.Hour
	}
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(string) bool { return false }
	}
	return &Auth{secret: secret, redis: redis, mailer: mailer, opts: opts}
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	GalleryID string `json:"gallery_id"` // optional, allocated when empty
}

func (a *Auth) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := strings.TrimSpace(in.Email)
	if addr, err := netmail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	if in.GalleryID != "" && !galleryIDPattern.MatchString(in.GalleryID) {
		return nil, ErrInvalidGalleryID
	}

	hashed, err := a.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		ID:        in.GalleryID,
		UID:       uuid.NewString(),
		Email:     email,
		Password:  hashed,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		IsAdmin:   a.opts.IsAdmin(email),
		CreatedAt: time.Now(),
	}
	if err := a.redis.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Auth) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.opts.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(user *model.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil
}

func (a *Auth) Login(ctx context.Context, email, password string, expiresIn time.Duration) (string, error) {
	user, err := a.redis.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", err
	}
	if user == nil || !checkPassword(user, password) {
		return "", ErrInvalidCredentials
	}
	return a.GenerateToken(user, expiresIn)
}

func (a *Auth) GenerateToken(user *model.User, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  user.ID,
		UID:     user.UID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.secret))
}

// ParseToken verifies signature and expiry and returns the claims.
func (a *Auth) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (a *Auth) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := a.redis.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !checkPassword(user, oldPassword) {
		return ErrInvalidCredentials
	}
	return a.setPassword(ctx, user, newPassword)
}

func (a *Auth) setPassword(ctx context.Context, user *model.User, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	hashed, err := a.HashPassword(password)
	if err != nil {
		return err
	}
	user.Password = hashed
	return a.redis.SaveUser(ctx, user)
}

// RequestPasswordReset mails a single-use reset link. Unknown addresses are
// not reported so the endpoint cannot be used to discover accounts.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := a.redis.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	token := uuid.NewString()
	if err := a.redis.SaveResetToken(ctx, token, user.ID, a.opts.ResetTTL); err != nil {
		return err
	}
	return a.mailer.Send(ctx, mail.PasswordResetEmail(user.Email, a.opts.ResetURL, token))
}

func (a *Auth) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	userID, err := a.redis.ConsumeResetToken(ctx, token)
	if err != nil {
		return err
	}
	if userID == "" {
		return ErrInvalidResetToken
	}
	user, err := a.redis.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidResetToken
	}
	return a.setPassword(ctx, user, newPassword)
}
