package aggregator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jirwin/casetracker/pkg/csgofloat"
	"github.com/jirwin/casetracker/pkg/market"
	"github.com/jirwin/casetracker/pkg/steam"
	"github.com/jirwin/casetracker/pkg/store"
)

// ErrBadKey is returned when an upload or countdown carries a missing or
// unknown pre-shared key, or a key without the required privileges. It maps
// to a 401.
var ErrBadKey = errors.New("bad/missing pre-shared key")

// Handler implements the aggregator's operations over its collaborators. One
// instance is shared by every request.
type Handler struct {
	store  *store.Store
	keys   *KeyStore
	float  *csgofloat.Client
	prices *market.Client
	admin  string
	logger *zap.Logger
}

// NewHandler wires a handler. admin is the display name allowed to start
// countdowns.
func NewHandler(st *store.Store, keys *KeyStore, float *csgofloat.Client, prices *market.Client, admin string, logger *zap.Logger) *Handler {
	return &Handler{
		store:  st,
		keys:   keys,
		float:  float,
		prices: prices,
		admin:  admin,
		logger: logger,
	}
}

// Save authenticates the batch, hydrates each unlock and persists the
// unhydrated form before publishing the hydrated one. The submitted display
// names are ignored; the name bound to the key wins. An empty batch is a
// no-op. A failure mid-batch leaves earlier items persisted; retrying the
// whole batch is safe because persistence is idempotent by history id.
func (h *Handler) Save(ctx context.Context, key string, items []steam.UnhydratedUnlock) error {
	if len(items) == 0 {
		return nil
	}

	name, ok := h.keys.User(key)
	if !ok {
		return ErrBadKey
	}

	for i := range items {
		items[i].Name = name
	}

	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.ItemMarketLink
	}

	floatInfo, err := h.float.GetBulk(ctx, urls)
	if err != nil {
		return fmt.Errorf("error hydrating case item: %w", err)
	}

	for _, item := range items {
		unlock, err := h.hydrate(ctx, item, floatInfo)
		if err != nil {
			return err
		}

		if err := h.store.AppendEntry(ctx, item); err != nil {
			return fmt.Errorf("error persisting item: %w", err)
		}
		if err := h.store.PublishUnlock(ctx, unlock); err != nil {
			return fmt.Errorf("error publishing new item event: %w", err)
		}

		h.logger.Info("stored new unlock",
			zap.String("history_id", item.HistoryID),
			zap.String("name", name),
			zap.String("item", item.ItemMarketName),
			zap.String("item_price", market.FormatPrice(unlock.ItemValue.LowestPrice)))
	}

	return nil
}

// State returns the hydrated history, newest first. Hydration happens at read
// time; the stored form never carries prices or metadata.
func (h *Handler) State(ctx context.Context) ([]steam.Unlock, error) {
	entries, err := h.store.GetEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting items from store: %w", err)
	}
	if len(entries) == 0 {
		return []steam.Unlock{}, nil
	}

	urls := make([]string, len(entries))
	for i, entry := range entries {
		urls[i] = entry.ItemMarketLink
	}

	floatInfo, err := h.float.GetBulk(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("error hydrating items: %w", err)
	}

	unlocks := make([]steam.Unlock, 0, len(entries))
	for _, entry := range entries {
		unlock, err := h.hydrate(ctx, entry, floatInfo)
		if err != nil {
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}

	return unlocks, nil
}

func (h *Handler) hydrate(ctx context.Context, item steam.UnhydratedUnlock, floatInfo map[string]csgofloat.ItemDescription) (steam.Unlock, error) {
	desc, ok := floatInfo[item.ItemMarketLink]
	if !ok {
		return steam.Unlock{}, fmt.Errorf("no metadata for item %s", item.HistoryID)
	}

	itemValue, err := h.prices.Get(ctx, item.ItemMarketName)
	if err != nil {
		return steam.Unlock{}, fmt.Errorf("error fetching item price: %w", err)
	}
	caseValue, err := h.prices.Get(ctx, item.Case.Name)
	if err != nil {
		return steam.Unlock{}, fmt.Errorf("error fetching case price: %w", err)
	}

	return steam.Unlock{
		Key:       item.Key,
		Case:      item.Case,
		CaseValue: caseValue,
		Item:      desc,
		ItemValue: itemValue,
		At:        item.At,
		Name:      item.Name,
	}, nil
}

// Countdown authenticates the request, requires the resolved name to be the
// configured admin, and broadcasts the payload on the sync topic.
func (h *Handler) Countdown(ctx context.Context, key string, req steam.CountdownRequest) error {
	name, ok := h.keys.User(key)
	if !ok {
		return ErrBadKey
	}
	if name != h.admin {
		return ErrBadKey
	}

	if err := h.store.StartCountdown(ctx, req); err != nil {
		return fmt.Errorf("error publishing countdown event: %w", err)
	}

	return nil
}

// UnlockStream opens a live stream of hydrated unlock events.
func (h *Handler) UnlockStream(ctx context.Context) (<-chan steam.Unlock, error) {
	return h.store.UnlockStream(ctx)
}

// SyncStream opens a live stream of countdown requests.
func (h *Handler) SyncStream(ctx context.Context) (<-chan steam.CountdownRequest, error) {
	return h.store.SyncStream(ctx)
}
