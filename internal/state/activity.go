package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// MaxActivities bounds the persisted activity log.
const MaxActivities = 1000

// ActivityTracker appends to the activity log and keeps per-actor counters.
// Writes are serialized within the process.
type ActivityTracker struct {
	store Store
	mu    sync.Mutex
	now   func() time.Time
}

func NewActivityTracker(s Store) *ActivityTracker {
	return &ActivityTracker{store: s, now: time.Now}
}

// Track records one activity, newest first, and updates the actor's stats.
func (t *ActivityTracker) Track(ctx context.Context, actor string, typ models.ActivityType, description string, metadata map[string]any) (models.Activity, error) {
	now := t.now().UTC()
	a := models.Activity{
		ID:          uuid.New(),
		Actor:       actor,
		Type:        typ,
		Description: description,
		Metadata:    metadata,
		Timestamp:   now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	activities, err := t.load(ctx)
	if err != nil {
		return models.Activity{}, err
	}
	activities = append([]models.Activity{a}, activities...)
	if len(activities) > MaxActivities {
		activities = activities[:MaxActivities]
	}
	if err := SetJSON(ctx, t.store, ActivitiesKey, activities); err != nil {
		return models.Activity{}, fmt.Errorf("save activities: %w", err)
	}

	stats, err := t.loadStats(ctx)
	if err != nil {
		return models.Activity{}, err
	}
	s := stats[actor]
	s.Actor = actor
	s.LastActive = now
	switch typ {
	case models.ActivityFileUpload:
		s.TotalUploads++
	case models.ActivityMetadataGenerated:
		s.TotalMetadataGenerated++
	case models.ActivityCSVExport:
		s.TotalCSVExports++
	}
	stats[actor] = s
	if err := SetJSON(ctx, t.store, UserStatsKey, stats); err != nil {
		return models.Activity{}, fmt.Errorf("save user stats: %w", err)
	}
	return a, nil
}

// List returns the newest activities. limit <= 0 returns all of them.
func (t *ActivityTracker) List(ctx context.Context, limit int) ([]models.Activity, error) {
	activities, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

func (t *ActivityTracker) ListByActor(ctx context.Context, actor string, limit int) ([]models.Activity, error) {
	activities, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Activity, 0)
	for _, a := range activities {
		if a.Actor != actor {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stats returns one actor's counters. It reports false for an unknown actor.
func (t *ActivityTracker) Stats(ctx context.Context, actor string) (models.UserStats, bool, error) {
	stats, err := t.loadStats(ctx)
	if err != nil {
		return models.UserStats{}, false, err
	}
	s, ok := stats[actor]
	return s, ok, nil
}

// AllStats returns every actor's counters ordered by actor.
func (t *ActivityTracker) AllStats(ctx context.Context) ([]models.UserStats, error) {
	stats, err := t.loadStats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out, nil
}

func (t *ActivityTracker) load(ctx context.Context) ([]models.Activity, error) {
	var activities []models.Activity
	if _, err := GetJSON(ctx, t.store, ActivitiesKey, &activities); err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	return activities, nil
}

func (t *ActivityTracker) loadStats(ctx context.Context) (map[string]models.UserStats, error) {
	stats := make(map[string]models.UserStats)
	if _, err := GetJSON(ctx, t.store, UserStatsKey, &stats); err != nil {
		return nil, fmt.Errorf("load user stats: %w", err)
	}
	return stats, nil
}
