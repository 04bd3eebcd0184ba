package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidLink is returned for unknown, spent or expired magic-link tokens.
var ErrInvalidLink = errors.New("invalid or expired token")

// UserLookup confirms that an identity exists in the directory.
type UserLookup interface {
	UserExists(ctx context.Context, email string) (bool, error)
}

// Mailer delivers a magic link to its owner's inbox.
type Mailer interface {
	SendMagicLink(to, link string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Configured reports whether every setting needed to send mail is present.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port != "" && c.Username != "" && c.Password != ""
}

// AuthConfig configures login links and bearer tokens.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	LinkTTL   time.Duration
	// PublicURL is the base of emailed links. Empty means the request host.
	PublicURL string
	SMTP      SMTPConfig
	// DevLinks returns the link in the login response instead of relying on
	// mail. Never enable it where untrusted callers can reach the API.
	DevLinks bool
}

type magicLink struct {
	email   string
	expires time.Time
}

// AuthService issues and verifies the bearer tokens that carry the actor
// identity into every Task Store call. A token is only handed out in exchange
// for a one-time link delivered to the user's own address.
type AuthService struct {
	mu        sync.Mutex
	links     map[string]magicLink // token -> pending login
	jwtSecret []byte
	ttl       time.Duration
	linkTTL   time.Duration
	publicURL string
	devLinks  bool
	users     UserLookup
	mailer    Mailer
	now       func() time.Time
}

// NewAuthService builds the service. mailer may be nil, in which case links
// are only available with DevLinks.
func NewAuthService(cfg AuthConfig, users UserLookup, mailer Mailer) *AuthService {
	linkTTL := cfg.LinkTTL
	if linkTTL <= 0 {
		linkTTL = 15 * time.Minute
	}
	return &AuthService{
		links:     make(map[string]magicLink),
		jwtSecret: []byte(cfg.JWTSecret),
		ttl:       cfg.TokenTTL,
		linkTTL:   linkTTL,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		devLinks:  cfg.DevLinks,
		users:     users,
		mailer:    mailer,
		now:       time.Now,
	}
}

// RequestMagicLink creates a one-time login link for email and mails it.
// baseURL is used when no public URL is configured. The link is returned only
// in dev mode. Unknown addresses get the same empty success as known ones.
func (s *AuthService) RequestMagicLink(ctx context.Context, email, baseURL string) (string, error) {
	const op = "login"
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return "", validationf(op, "invalid email address")
	}
	if s.mailer == nil && !s.devLinks {
		return "", errors.New("login: no mail transport configured")
	}
	ok, err := s.users.UserExists(ctx, email)
	if err != nil {
		return "", transient(op, err)
	}
	if !ok {
		log.Printf("[auth] login requested for unknown user %s", email)
		return "", nil
	}

	token, err := generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	s.mu.Lock()
	s.pruneLocked()
	s.links[token] = magicLink{email: email, expires: s.now().Add(s.linkTTL)}
	s.mu.Unlock()

	if s.publicURL != "" {
		baseURL = s.publicURL
	}
	link := fmt.Sprintf("%s/api/auth/magic-link?token=%s", baseURL, token)

	if s.mailer != nil {
		if err := s.mailer.SendMagicLink(email, link); err != nil {
			s.mu.Lock()
			delete(s.links, token)
			s.mu.Unlock()
			return "", transient(op, err)
		}
	}
	if s.devLinks {
		return link, nil
	}
	return "", nil
}

// ExchangeMagicLink spends a one-time link token and returns a bearer token
// for its owner.
func (s *AuthService) ExchangeMagicLink(token string) (jwtToken, email string, err error) {
	s.mu.Lock()
	pending, exists := s.links[token]
	delete(s.links, token)
	s.mu.Unlock()

	if !exists || !s.now().Before(pending.expires) {
		return "", "", ErrInvalidLink
	}
	jwtToken, err = s.CreateJWT(pending.email)
	if err != nil {
		return "", "", err
	}
	return jwtToken, pending.email, nil
}

// IssueToken signs a bearer token for a directory user without a link. It is
// meant for operators with access to the host, not for the HTTP surface.
func (s *AuthService) IssueToken(ctx context.Context, email string) (string, error) {
	const op = "issue token"
	ok, err := s.users.UserExists(ctx, email)
	if err != nil {
		return "", transient(op, err)
	}
	if !ok {
		return "", validationf(op, "unknown user %q", email)
	}
	return s.CreateJWT(email)
}

// CreateJWT generates a JWT token for a user
func (s *AuthService) CreateJWT(email string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(s.ttl).Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// VerifyJWT verifies a JWT token and returns the email
func (s *AuthService) VerifyJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", errors.New("email claim missing")
	}

	return email, nil
}

// pruneLocked drops expired links. s.mu must be held.
func (s *AuthService) pruneLocked() {
	now := s.now()
	for token, l := range s.links {
		if !now.Before(l.expires) {
			delete(s.links, token)
		}
	}
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// SMTPMailer sends magic links through an authenticated SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendMagicLink(to, link string) error {
	if !m.cfg.Configured() {
		return errors.New("SMTP not fully configured")
	}

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)

	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}

	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	if err := smtp.SendMail(addr, auth, from, []string{to}, magicLinkMessage(from, to, link)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func magicLinkMessage(from, to, link string) []byte {
	subject := "Your KatCon login link"
	body := fmt.Sprintf("Click the link below to sign in to KatCon:\n\n%s\n\nIf you didn't request this link, you can safely ignore this email.", link)
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
}
