package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"daily-nudge/internal/model"
)

// planRow holds the single current plan of a user; tasks are JSON encoded.
type planRow struct {
	UserID    string `gorm:"primaryKey"`
	Date      string `gorm:"index"`
	Timezone  string
	Tasks     []byte
	UpdatedAt time.Time
}

func (planRow) TableName() string { return "plans" }

// PlanRepository stores current plans in SQL.
type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) Get(ctx context.Context, userID, date string) (model.Plan, error) {
	var row planRow
	err := r.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).First(&row).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.Plan{}, ErrNotFound
	default:
		return model.Plan{}, fmt.Errorf("find plan: %w", err)
	}

	plan := model.Plan{Date: row.Date, Timezone: row.Timezone, Tasks: []model.Task{}}
	if len(row.Tasks) > 0 {
		if err := json.Unmarshal(row.Tasks, &plan.Tasks); err != nil {
			return model.Plan{}, fmt.Errorf("decode plan tasks: %w", err)
		}
	}
	return plan, nil
}

func (r *PlanRepository) Put(ctx context.Context, userID string, plan model.Plan) error {
	tasks, err := json.Marshal(plan.Tasks)
	if err != nil {
		return fmt.Errorf("encode plan tasks: %w", err)
	}
	row := planRow{
		UserID:   userID,
		Date:     plan.Date,
		Timezone: plan.Timezone,
		Tasks:    tasks,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error; err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}
