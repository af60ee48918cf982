package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/auth"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/permissions"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("identity: invalid identity")

const (
	RoleAdmin      = "admin"
	RoleFullAccess = "full_access"
	RoleEditor     = "editor"
	RoleLimited    = "limited"
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// AdminEmails grants the admin flag (and full access) regardless of roles.
	AdminEmails []string
}

// Service resolves session claims into actors and records provider identities.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	admins map[string]struct{}
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if normalized := strings.ToLower(normalize(email)); normalized != "" {
			admins[normalized] = struct{}{}
		}
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
		admins: admins,
	}, nil
}

// ResolveActor returns the actor for the claims, creating the identity mapping when
// the provider+subject pair has not been seen before.
func (s *Service) ResolveActor(claims auth.SessionClaims) (permissions.Actor, error) {
	userID, err := s.resolveUserID(claims)
	if err != nil {
		return permissions.Actor{}, err
	}
	email := normalize(claims.UserEmail)
	actor := permissions.Actor{
		UserID:      userID,
		Email:       email,
		DisplayName: normalize(claims.UserDisplayName),
		Role:        RoleFor(claims.UserRoles),
	}
	if _, ok := s.admins[strings.ToLower(email)]; ok || hasRole(claims.UserRoles, RoleAdmin) {
		actor.Admin = true
		actor.Role = permissions.Role{FullAccess: true}
	}
	return actor, nil
}

// RoleFor maps claim roles onto the role descriptor. Signed-in users without a
// recognized full-access role are limited.
func RoleFor(roles []string) permissions.Role {
	if hasRole(roles, RoleFullAccess) || hasRole(roles, RoleEditor) || hasRole(roles, RoleAdmin) {
		return permissions.Role{FullAccess: true}
	}
	return permissions.Role{Limited: true}
}

func hasRole(roles []string, want string) bool {
	for _, role := range roles {
		if strings.EqualFold(normalize(role), want) {
			return true
		}
	}
	return false
}

func (s *Service) resolveUserID(claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}
	roles := strings.Join(claims.UserRoles, ",")

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if entry, ok := cached.(cachedIdentity); ok && entry.roles == roles {
			return entry.userID, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			Roles:       roles,
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now(), "user_roles": roles}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		if err := s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("provider", provider), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, cachedIdentity{userID: identity.UserID, roles: roles})
	return identity.UserID, nil
}

type cachedIdentity struct {
	userID string
	roles  string
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
