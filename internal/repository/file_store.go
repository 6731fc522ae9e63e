// internal/repository/file_store.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// document is the persisted layout: {"settings":{...},"users":{"<owner>":{...}}}.
type document struct {
	Settings domain.Settings         `json:"settings"`
	Users    map[string]*domain.User `json:"users"`
}

func (d *document) clone() *document {
	c := &document{Settings: d.Settings, Users: make(map[string]*domain.User, len(d.Users))}
	for k, u := range d.Users {
		c.Users[k] = u.Clone()
	}
	return c
}

func (d *document) findDeposit(id string) *domain.DepositRequest {
	for _, u := range d.Users {
		if dep := u.FindDeposit(id); dep != nil {
			return dep
		}
	}
	return nil
}

// FileStore keeps the whole state in memory and rewrites one JSON file on every mutation.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	doc    *document
	logger *zap.Logger

	now       func() time.Time
	writeFile func(path string, data []byte) error
}

// NewFileStore loads path, or starts an empty document with defaults when the file does not exist.
func NewFileStore(path string, defaults domain.Settings, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		logger:    logger,
		now:       time.Now,
		writeFile: atomicWriteFile,
	}

	doc := &document{Settings: defaults, Users: map[string]*domain.User{}}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("state file not found, starting empty", zap.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode state file %s: %w", path, err)
		}
		if doc.Users == nil {
			doc.Users = map[string]*domain.User{}
		}
		if doc.Settings.ValidateBounds() != nil {
			doc.Settings.MinDeposit = defaults.MinDeposit
			doc.Settings.MaxDeposit = defaults.MaxDeposit
		}
		if doc.Settings.WelcomeMessage == "" {
			doc.Settings.WelcomeMessage = defaults.WelcomeMessage
		}
	}

	s.doc = doc
	logger.Info("state file loaded",
		zap.String("path", path),
		zap.Int("users", len(doc.Users)))
	return s, nil
}

// mutate runs fn on a copy of the document and swaps it in only if the write succeeds.
func (s *FileStore) mutate(fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(next); err != nil {
		return err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrPersistence, err)
	}
	if err := s.writeFile(s.path, data); err != nil {
		s.logger.Error("failed to persist state, keeping previous document",
			zap.String("path", s.path),
			zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	s.doc = next
	return nil
}

func (s *FileStore) CreateDeposit(ctx context.Context, deposit *domain.DepositRequest) error {
	return s.mutate(func(doc *document) error {
		if doc.findDeposit(deposit.ID) != nil {
			return domain.ErrDuplicateDeposit
		}
		u, ok := doc.Users[deposit.OwnerID]
		if !ok {
			u = domain.NewUser(deposit.OwnerID, s.now())
			doc.Users[deposit.OwnerID] = u
		}
		u.Deposits = append(u.Deposits, deposit.Clone())
		return nil
	})
}

func (s *FileStore) GetDeposit(ctx context.Context, id string) (*domain.DepositRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dep := s.doc.findDeposit(id)
	if dep == nil {
		return nil, domain.ErrDepositNotFound
	}
	return dep.Clone(), nil
}

func (s *FileStore) ListDeposits(ctx context.Context, filter DepositFilter) ([]*domain.DepositRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.DepositRequest{}
	for _, u := range s.doc.Users {
		for _, d := range u.Deposits {
			if filter.matches(d) {
				out = append(out, d.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (s *FileStore) ApplyTransition(ctx context.Context, t domain.Transition) (*domain.DepositRequest, error) {
	var result *domain.DepositRequest
	err := s.mutate(func(doc *document) error {
		u, dep := s.ownerOf(doc, t.DepositID)
		if dep == nil {
			return domain.ErrDepositNotFound
		}
		if err := t.Apply(dep, s.now()); err != nil {
			return err
		}
		if t.To == domain.DepositStatusConfirmed {
			u.Balance = u.Balance.Add(dep.Amount)
		}
		result = dep.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FileStore) ownerOf(doc *document, depositID string) (*domain.User, *domain.DepositRequest) {
	for _, u := range doc.Users {
		if dep := u.FindDeposit(depositID); dep != nil {
			return u, dep
		}
	}
	return nil, nil
}

func (s *FileStore) EnsureUser(ctx context.Context, ownerID string) (*domain.User, error) {
	s.mu.RLock()
	existing := s.doc.Users[ownerID].Clone()
	s.mu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	var result *domain.User
	err := s.mutate(func(doc *document) error {
		u, ok := doc.Users[ownerID]
		if !ok {
			u = domain.NewUser(ownerID, s.now())
			doc.Users[ownerID] = u
		}
		result = u.Clone()
		return nil
	})
	return result, err
}

func (s *FileStore) GetUser(ctx context.Context, ownerID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.doc.Users[ownerID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *FileStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.User, 0, len(s.doc.Users))
	for _, u := range s.doc.Users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

func (s *FileStore) AdjustBalance(ctx context.Context, ownerID string, delta decimal.Decimal) (*domain.User, error) {
	var result *domain.User
	err := s.mutate(func(doc *document) error {
		u, ok := doc.Users[ownerID]
		if !ok {
			return domain.ErrUserNotFound
		}
		next := u.Balance.Add(delta)
		if next.IsNegative() {
			return domain.ErrInsufficientBalance
		}
		u.Balance = next
		result = u.Clone()
		return nil
	})
	return result, err
}

func (s *FileStore) SetBanned(ctx context.Context, ownerID string, banned bool) (*domain.User, error) {
	var result *domain.User
	err := s.mutate(func(doc *document) error {
		u, ok := doc.Users[ownerID]
		if !ok {
			u = domain.NewUser(ownerID, s.now())
			doc.Users[ownerID] = u
		}
		u.Banned = banned
		result = u.Clone()
		return nil
	})
	return result, err
}

func (s *FileStore) GetSettings(ctx context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Settings, nil
}

func (s *FileStore) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if err := settings.ValidateBounds(); err != nil {
		return err
	}
	return s.mutate(func(doc *document) error {
		doc.Settings = settings
		return nil
	})
}

func (s *FileStore) Close() {}

// atomicWriteFile writes to a temp file in the same directory and renames it over path.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
