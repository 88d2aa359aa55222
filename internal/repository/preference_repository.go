package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"daily-nudge/internal/model"
)

type preferenceRow struct {
	UserID         string `gorm:"primaryKey"`
	ReminderHour   int
	ReminderMinute int
	Timezone       string
	UpdatedAt      time.Time
}

func (preferenceRow) TableName() string { return "preferences" }

// PreferenceRepository stores reminder preferences in SQL.
type PreferenceRepository struct {
	db              *gorm.DB
	defaultTimezone string
}

func NewPreferenceRepository(db *gorm.DB, defaultTimezone string) *PreferenceRepository {
	return &PreferenceRepository{db: db, defaultTimezone: defaultTimezone}
}

func (r *PreferenceRepository) Get(ctx context.Context, userID string) (model.Preference, error) {
	var row preferenceRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	switch {
	case err == nil:
		return model.Preference{
			ReminderHour:   row.ReminderHour,
			ReminderMinute: row.ReminderMinute,
			Timezone:       row.Timezone,
		}, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.DefaultPreference(r.defaultTimezone), nil
	default:
		return model.Preference{}, fmt.Errorf("find preference: %w", err)
	}
}

func (r *PreferenceRepository) Set(ctx context.Context, userID string, pref model.Preference) error {
	row := preferenceRow{
		UserID:         userID,
		ReminderHour:   pref.ReminderHour,
		ReminderMinute: pref.ReminderMinute,
		Timezone:       pref.Timezone,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}
