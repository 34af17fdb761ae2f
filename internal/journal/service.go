// Package journal keeps a local audit of mark attempts and the registry of
// scanner devices. It is never the source of truth for presence.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScanEvent is one journaled mark attempt.
type ScanEvent struct {
	ID         string    `json:"id"`
	LessonID   int64     `json:"lesson_id"`
	StudentID  int64     `json:"student_id"`
	RecordID   int64     `json:"record_id"`
	DeviceID   string    `json:"device_id"`
	Source     string    `json:"source"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows ListScans.
type Filter struct {
	LessonID  int64
	StudentID int64
	DeviceID  string
	Outcome   string
	Limit     int
	Offset    int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store is what the service needs from persistence. *Repository satisfies it.
type Store interface {
	UpsertDevice(ctx context.Context, deviceID, role string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, token string) (string, error)
	RecentScan(ctx context.Context, studentID, lessonID int64, outcome string, window time.Duration) (*ScanEvent, error)
	InsertScan(ctx context.Context, evt ScanEvent) (ScanEvent, error)
	GetScan(ctx context.Context, id string) (ScanEvent, error)
	ListScans(ctx context.Context, f Filter) ([]ScanEvent, error)
}

// Service records scans with deduplication.
type Service struct {
	store       Store
	dedupWindow time.Duration
}

// NewService creates a service backed by store.
func NewService(store Store, dedupWindow time.Duration) *Service {
	if dedupWindow <= 0 {
		dedupWindow = 2 * time.Minute
	}
	return &Service{store: store, dedupWindow: dedupWindow}
}

// RegisterDevice validates and persists device metadata.
func (s *Service) RegisterDevice(ctx context.Context, deviceID, role string) error {
	if deviceID == "" {
		return errors.New("journal: device id required")
	}
	if err := s.store.UpsertDevice(ctx, deviceID, role); err != nil {
		return fmt.Errorf("journal: register device: %w", err)
	}
	return nil
}

// SaveRefreshToken remembers an issued refresh token.
func (s *Service) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	if err := s.store.SaveRefreshToken(ctx, deviceID, token, expiresAt); err != nil {
		return fmt.Errorf("journal: save refresh token: %w", err)
	}
	return nil
}

// RedeemRefreshToken spends a refresh token issued to deviceID. Each token
// redeems once; a token that is unknown, spent, expired or held by another
// device fails with ErrNotFound.
func (s *Service) RedeemRefreshToken(ctx context.Context, deviceID, token string) error {
	owner, err := s.store.RevokeRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("journal: redeem refresh token: %w", err)
	}
	if owner != deviceID {
		return fmt.Errorf("refresh token for %q: %w", deviceID, ErrNotFound)
	}
	return nil
}

// Record journals evt. A repeat of the same outcome for the same student and
// lesson inside the dedup window returns the earlier event instead.
func (s *Service) Record(ctx context.Context, evt ScanEvent) (ScanEvent, error) {
	if evt.LessonID == 0 || evt.StudentID == 0 {
		return ScanEvent{}, errors.New("journal: lesson and student required")
	}
	if evt.Outcome == "" || evt.Source == "" {
		return ScanEvent{}, errors.New("journal: source and outcome required")
	}
	recent, err := s.store.RecentScan(ctx, evt.StudentID, evt.LessonID, evt.Outcome, s.dedupWindow)
	if err != nil {
		return ScanEvent{}, fmt.Errorf("journal: recent scan: %w", err)
	}
	if recent != nil {
		return *recent, nil
	}

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	saved, err := s.store.InsertScan(ctx, evt)
	if err != nil {
		return ScanEvent{}, fmt.Errorf("journal: insert scan: %w", err)
	}
	return saved, nil
}

// Get returns one event.
func (s *Service) Get(ctx context.Context, id string) (ScanEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ScanEvent{}, fmt.Errorf("scan %q: %w", id, ErrNotFound)
	}
	return s.store.GetScan(ctx, id)
}

// List returns events matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]ScanEvent, error) {
	return s.store.ListScans(ctx, f.normalized())
}
