package service

import (
	"context"
	"errors"
	"sync"

	"github.com/noah-isme/filevault-api/internal/models"
)

type auditStub struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (a *auditStub) Record(_ context.Context, entry *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *entry)
	return a.err
}

func (a *auditStub) actions() []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.AuditAction, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *auditStub) last() models.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return models.AuditLog{}
	}
	return a.entries[len(a.entries)-1]
}

var errStub = errors.New("stub failure")

func identity(userID int64, roles ...models.RoleName) *models.Identity {
	return &models.Identity{UserID: userID, Roles: roles, TokenID: "jti"}
}
