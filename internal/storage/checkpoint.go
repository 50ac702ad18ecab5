package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const checkpointID = 1

// SaveCrawlCheckpoint replaces the stored crawl checkpoint.
func (s *Store) SaveCrawlCheckpoint(ctx context.Context, frames []byte, at time.Time) error {
	row := &CrawlCheckpoint{ID: checkpointID, Frames: frames, SavedAt: at.UTC()}
	return s.conn(ctx, nil).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"frames", "saved_at"}),
	}).Create(row).Error
}

// LoadCrawlCheckpoint returns the stored checkpoint, or nil when there is none.
func (s *Store) LoadCrawlCheckpoint(ctx context.Context) (*CrawlCheckpoint, error) {
	var row CrawlCheckpoint
	err := s.conn(ctx, nil).First(&row, checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ClearCrawlCheckpoint removes the stored checkpoint, if any.
func (s *Store) ClearCrawlCheckpoint(ctx context.Context) error {
	return s.conn(ctx, nil).Delete(&CrawlCheckpoint{}, checkpointID).Error
}
