package repository

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

type memoryGame struct {
	cache *gocache.Cache
}

// NewMemoryGameRepository - in-process snapshots expiring after ttl, purged every cleanup interval.
func NewMemoryGameRepository(ttl, cleanup time.Duration) GameRepository {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	return &memoryGame{
		cache: gocache.New(ttl, cleanup),
	}
}

func (that *memoryGame) CreateOrUpdate(_ context.Context, state *entity.GameState) error {
	stored := *state
	that.cache.SetDefault(state.GameID, &stored)

	return nil
}

func (that *memoryGame) GetByID(_ context.Context, id string) (*entity.GameState, error) {
	value, ok := that.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrGameNotFound, id)
	}

	state, ok := value.(*entity.GameState)
	if !ok {
		return nil, fmt.Errorf("unexpected value for game %s: %T", id, value)
	}

	copied := *state

	return &copied, nil
}

func (that *memoryGame) DeleteByID(_ context.Context, id string) error {
	that.cache.Delete(id)

	return nil
}
