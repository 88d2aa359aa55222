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

type subscriptionRow struct {
	UserID    string `gorm:"primaryKey"`
	Kind      string
	Endpoint  string
	P256dh    string
	Auth      string
	ChatID    int64
	UpdatedAt time.Time
}

func (subscriptionRow) TableName() string { return "subscriptions" }

// SubscriptionRepository stores push subscriptions in SQL.
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Get(ctx context.Context, userID string) (model.Subscription, error) {
	var row subscriptionRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	switch {
	case err == nil:
		return model.Subscription{
			Kind:     row.Kind,
			Endpoint: row.Endpoint,
			Keys:     model.PushKeys{P256dh: row.P256dh, Auth: row.Auth},
			ChatID:   row.ChatID,
		}, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.Subscription{}, ErrNotFound
	default:
		return model.Subscription{}, fmt.Errorf("find subscription: %w", err)
	}
}

func (r *SubscriptionRepository) Save(ctx context.Context, userID string, sub model.Subscription) error {
	sub = sub.Normalized()
	row := subscriptionRow{
		UserID:   userID,
		Kind:     sub.Kind,
		Endpoint: sub.Endpoint,
		P256dh:   sub.Keys.P256dh,
		Auth:     sub.Keys.Auth,
		ChatID:   sub.ChatID,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Delete(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Delete(&subscriptionRow{}).Error; err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) DeleteIf(ctx context.Context, userID, endpoint string) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&subscriptionRow{})
	if res.Error != nil {
		return false, fmt.Errorf("delete subscription: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *SubscriptionRepository) UserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&subscriptionRow{}).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return ids, nil
}
