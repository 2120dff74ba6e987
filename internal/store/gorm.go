package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/lobby-matchmaker/internal/matchmaking"
)

type userRow struct {
	ID       uint   `gorm:"primaryKey"`
	Lobby    string `gorm:"not null;uniqueIndex:idx_lobby_user"`
	Name     string `gorm:"not null;uniqueIndex:idx_lobby_user"`
	Matching bool   `gorm:"not null"`
}

func (userRow) TableName() string { return "lobby_users" }

type openGameRow struct {
	ID    uint   `gorm:"primaryKey"`
	Lobby string `gorm:"not null;uniqueIndex:idx_lobby_open_game"`
	Owner string `gorm:"not null;uniqueIndex:idx_lobby_open_game"`
}

func (openGameRow) TableName() string { return "lobby_open_games" }

type activeGameRow struct {
	ID        uint   `gorm:"primaryKey"`
	Lobby     string `gorm:"not null;index"`
	Owner     string `gorm:"not null"`
	Guest     string `gorm:"not null"`
	CreatedAt time.Time
}

func (activeGameRow) TableName() string { return "lobby_active_games" }

// OpenPostgres connects through pgx and migrates the lobby tables.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&userRow{}, &openGameRow{}, &activeGameRow{}); err != nil {
		return fmt.Errorf("migrate lobby tables: %w", err)
	}
	return nil
}

// Gorm stores one lobby's collections; rows are scoped by lobby code.
type Gorm struct {
	db    *gorm.DB
	lobby string
}

func NewGorm(db *gorm.DB, lobby string) *Gorm {
	return &Gorm{db: db, lobby: lobby}
}

func (g *Gorm) Load(ctx context.Context) (matchmaking.State, error) {
	db := g.db.WithContext(ctx)
	s := matchmaking.NewEmptyState()

	var users []userRow
	if err := db.Where("lobby = ?", g.lobby).Order("id").Find(&users).Error; err != nil {
		return s, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		s.Users = append(s.Users, u.Name)
		if u.Matching {
			s.MatchingUsers = append(s.MatchingUsers, u.Name)
		}
	}

	var games []openGameRow
	if err := db.Where("lobby = ?", g.lobby).Order("id").Find(&games).Error; err != nil {
		return s, fmt.Errorf("load open games: %w", err)
	}
	for _, game := range games {
		s.OpenGames = append(s.OpenGames, game.Owner)
	}

	var active []activeGameRow
	if err := db.Where("lobby = ?", g.lobby).Order("id").Find(&active).Error; err != nil {
		return s, fmt.Errorf("load active games: %w", err)
	}
	for _, game := range active {
		s.ActiveGames = append(s.ActiveGames, matchmaking.Match{Owner: game.Owner, Guest: game.Guest})
	}
	return s, nil
}

// Commit writes the events of one step in a single transaction.
func (g *Gorm) Commit(ctx context.Context, events []matchmaking.Event) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, event := range events {
			if err := g.apply(tx, event); err != nil {
				return fmt.Errorf("%s %q: %w", event.Type, event.User, err)
			}
		}
		return nil
	})
}

func (g *Gorm) apply(tx *gorm.DB, event matchmaking.Event) error {
	switch event.Type {
	case matchmaking.EvtUserAdded:
		return tx.Create(&userRow{Lobby: g.lobby, Name: event.User, Matching: true}).Error

	case matchmaking.EvtUsernameChanged:
		err := tx.Model(&userRow{}).
			Where("lobby = ? AND name = ?", g.lobby, event.User).
			Update("name", event.NewName).Error
		if err != nil {
			return err
		}
		return tx.Model(&openGameRow{}).
			Where("lobby = ? AND owner = ?", g.lobby, event.User).
			Update("owner", event.NewName).Error

	case matchmaking.EvtGameOpened:
		return tx.Create(&openGameRow{Lobby: g.lobby, Owner: event.User}).Error

	case matchmaking.EvtGameMatched:
		pair := []string{event.User, event.Guest}
		err := tx.Where("lobby = ? AND owner IN ?", g.lobby, pair).Delete(&openGameRow{}).Error
		if err != nil {
			return err
		}
		err = tx.Model(&userRow{}).
			Where("lobby = ? AND name IN ?", g.lobby, pair).
			Update("matching", false).Error
		if err != nil {
			return err
		}
		return tx.Create(&activeGameRow{Lobby: g.lobby, Owner: event.User, Guest: event.Guest}).Error

	case matchmaking.EvtUserRemoved:
		err := tx.Where("lobby = ? AND name = ?", g.lobby, event.User).Delete(&userRow{}).Error
		if err != nil {
			return err
		}
		return tx.Where("lobby = ? AND owner = ?", g.lobby, event.User).Delete(&openGameRow{}).Error
	}
	return fmt.Errorf("unknown event type %q", event.Type)
}
