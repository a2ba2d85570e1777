package fanout

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// DefaultInactiveAfter задаёт порог неактивности для recipient_type=inactive.
const DefaultInactiveAfter = 30 * 24 * time.Hour

// ResolveRecipients отбирает получателей рассылки из справочника пользователей.
// Пустой результат не считается ошибкой.
func ResolveRecipients(c *entity.Campaign, users []entity.DirectoryUser, now time.Time, inactiveAfter time.Duration) ([]uuid.UUID, error) {
	if inactiveAfter <= 0 {
		inactiveAfter = DefaultInactiveAfter
	}

	var match func(u entity.DirectoryUser) bool

	switch c.RecipientType {
	case valueobject.RecipientTypeAll:
		match = func(u entity.DirectoryUser) bool { return u.IsActive }
	case valueobject.RecipientTypeProviders:
		match = func(u entity.DirectoryUser) bool { return u.IsActive && u.Role == valueobject.RoleProvider }
	case valueobject.RecipientTypeCustomers:
		match = func(u entity.DirectoryUser) bool { return u.IsActive && u.Role == valueobject.RoleCustomer }
	case valueobject.RecipientTypeInactive:
		cutoff := now.Add(-inactiveAfter)
		match = func(u entity.DirectoryUser) bool {
			if !u.IsActive {
				return false
			}
			if u.LastLoginAt == nil {
				return u.CreatedAt.Before(cutoff)
			}
			return u.LastLoginAt.Before(cutoff)
		}
	case valueobject.RecipientTypeCustom:
		if len(c.CustomRecipients) > 0 {
			return explicitRecipients(c, users)
		}
		match = filterMatcher(c.CustomFilter)
	default:
		return nil, apperror.New(apperror.ErrCodeIntegrity, "неизвестный тип получателей "+string(c.RecipientType))
	}

	ids := make([]uuid.UUID, 0)
	for _, u := range users {
		if match(u) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// explicitRecipients оставляет только существующих пользователей, без повторов, в исходном порядке.
func explicitRecipients(c *entity.Campaign, users []entity.DirectoryUser) ([]uuid.UUID, error) {
	requested, err := c.CustomRecipientIDs()
	if err != nil {
		return nil, err
	}

	known := make(map[uuid.UUID]struct{}, len(users))
	for _, u := range users {
		if u.IsActive {
			known[u.ID] = struct{}{}
		}
	}

	seen := make(map[uuid.UUID]struct{}, len(requested))
	ids := make([]uuid.UUID, 0, len(requested))
	for _, id := range requested {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func filterMatcher(f entity.RecipientFilter) func(u entity.DirectoryUser) bool {
	roles := make(map[valueobject.Role]struct{}, len(f.Roles))
	for _, r := range f.Roles {
		roles[r] = struct{}{}
	}
	departments := make(map[string]struct{}, len(f.Departments))
	for _, d := range f.Departments {
		departments[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	return func(u entity.DirectoryUser) bool {
		if !u.IsActive {
			return false
		}
		if len(roles) > 0 {
			if _, ok := roles[u.Role]; !ok {
				return false
			}
		}
		if len(departments) > 0 {
			if u.Department == nil {
				return false
			}
			if _, ok := departments[strings.ToLower(*u.Department)]; !ok {
				return false
			}
		}
		if f.JoinedAfter != nil && u.CreatedAt.Before(*f.JoinedAfter) {
			return false
		}
		if f.JoinedBefore != nil && !u.CreatedAt.Before(*f.JoinedBefore) {
			return false
		}
		return true
	}
}
