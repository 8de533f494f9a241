package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/liverace/backend/internal/model"
)

// BotRepository maps an integration's client identity plus a race category to
// an active bot registration.
type BotRepository struct {
	db *sql.DB
}

// NewBotRepository creates a new BotRepository.
func NewBotRepository(db *sql.DB) *BotRepository {
	return &BotRepository{db: db}
}

// Create inserts a bot registration.
func (r *BotRepository) Create(ctx context.Context, bot model.Bot) error {
	query := `
		INSERT INTO bots (id, name, client_id, category_id, active)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, bot.ID, bot.Name, bot.ClientID, bot.CategoryID, bot.Active)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	return nil
}

// Lookup returns the active bot registered for the client in the category.
func (r *BotRepository) Lookup(ctx context.Context, clientID, categoryID string) (model.Bot, error) {
	query := `
		SELECT id, name, client_id, category_id, active
		FROM bots
		WHERE client_id = ? AND category_id = ? AND active = 1
		LIMIT 1
	`

	var bot model.Bot
	err := r.db.QueryRowContext(ctx, query, clientID, categoryID).Scan(
		&bot.ID,
		&bot.Name,
		&bot.ClientID,
		&bot.CategoryID,
		&bot.Active,
	)
	if err == sql.ErrNoRows {
		return model.Bot{}, model.ErrBotNotFound
	}
	if err != nil {
		return model.Bot{}, fmt.Errorf("failed to look up bot: %w", err)
	}

	return bot, nil
}

// Deactivate marks a bot registration inactive.
func (r *BotRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE bots SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate bot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return model.ErrBotNotFound
	}
	return nil
}
