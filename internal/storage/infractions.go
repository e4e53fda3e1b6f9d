package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Infraction tallies sanctions applied to one user per category.
type Infraction struct {
	GuildID    string
	UserID     string
	Category   string
	CountTotal int
	LastAt     time.Time
	LastAction string
}

func (s *Store) RecordInfraction(ctx context.Context, guildID, userID, category, action string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_infractions (guild_id, user_id, category, count_total, last_at, last_action)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (guild_id, user_id, category) DO UPDATE SET
			count_total = user_infractions.count_total + 1,
			last_at = excluded.last_at,
			last_action = excluded.last_action
	`, guildID, userID, category, at, action)
	return err
}

func (s *Store) GetInfraction(ctx context.Context, guildID, userID, category string) (Infraction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT guild_id, user_id, category, count_total, last_at, last_action
		FROM user_infractions
		WHERE guild_id = $1 AND user_id = $2 AND category = $3
	`, guildID, userID, category)

	var inf Infraction
	err := row.Scan(&inf.GuildID, &inf.UserID, &inf.Category, &inf.CountTotal, &inf.LastAt, &inf.LastAction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Infraction{}, nil
		}
		return Infraction{}, err
	}
	return inf, nil
}
