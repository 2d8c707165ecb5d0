// Package sessionvalkey backs the session manager's token repository and
// broadcast channel with valkey: the token pair lives under plain keys, the
// broadcast markers are written as timestamp values and additionally pushed
// over pub/sub so other agents sharing the store get change notifications.
package sessionvalkey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/serviceerr"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
)

const (
	keyAccessToken  = "token"
	keyRefreshToken = "refreshToken"
)

var (
	ErrGetAccessToken  = errors.New("getting access token from store")
	ErrGetRefreshToken = errors.New("getting refresh token from store")
	ErrStoreTokens     = errors.New("setting tokens into storage")
)

type Repository struct {
	store *store
	// instanceID tags published markers so this agent's own publishes can
	// be dropped on the subscribing side. Pub/sub fans out to every
	// subscriber of the channel, the publisher's included.
	instanceID string
}

var _ session.TokenRepository = (*Repository)(nil)
var _ session.Broadcaster = (*Repository)(nil)

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store:      newStore(valkeyClient, prefix),
		instanceID: uuid.NewString(),
	}
}

func (r *Repository) LoadTokens(ctx context.Context) (session.TokenPair, error) {
	var pair session.TokenPair
	if err := r.store.Get(ctx, keyAccessToken, &pair.AccessToken); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return session.TokenPair{}, serviceerr.ErrNotFound
		}

		return session.TokenPair{}, errors.Join(ErrGetAccessToken, err)
	}

	if err := r.store.Get(ctx, keyRefreshToken, &pair.RefreshToken); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			// Half a pair is no session.
			return session.TokenPair{}, serviceerr.ErrNotFound
		}

		return session.TokenPair{}, errors.Join(ErrGetRefreshToken, err)
	}

	return pair, nil
}

func (r *Repository) StoreTokens(ctx context.Context, pair session.TokenPair) error {
	if err := r.store.Set(ctx, keyAccessToken, pair.AccessToken); err != nil {
		return errors.Join(ErrStoreTokens, err)
	}

	if err := r.store.Set(ctx, keyRefreshToken, pair.RefreshToken); err != nil {
		// Roll back so no half-set pair survives.
		if derr := r.store.Destroy(ctx, keyAccessToken); derr != nil {
			slogctx.Error(ctx, "couldn't destroy access token during rollback", "error", derr)
		}

		return errors.Join(ErrStoreTokens, err)
	}

	return nil
}

func (r *Repository) ClearTokens(ctx context.Context) error {
	if err := r.store.Destroy(ctx, keyAccessToken, keyRefreshToken); err != nil {
		return fmt.Errorf("deleting tokens from store: %w", err)
	}

	return nil
}

// Publish writes the marker key (its value is only a timestamp) and pushes
// the same marker over pub/sub for agents subscribed right now.
func (r *Repository) Publish(ctx context.Context, topic string) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)

	if err := r.store.Set(ctx, topic, stamp); err != nil {
		return fmt.Errorf("writing broadcast marker: %w", err)
	}

	message := r.instanceID + " " + stamp
	cmd := r.store.valkey.B().Publish().Channel(r.store.key(topic)).Message(message).Build()
	if err := r.store.valkey.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("publishing broadcast marker: %w", err)
	}

	return nil
}

// Subscribe delivers every marker observed on the topic's channel to the
// handler until ctx is done, dropping this agent's own publishes. Beyond
// the origin tag the marker payload is ignored: a delivery is the whole
// signal and handlers are idempotent.
func (r *Repository) Subscribe(ctx context.Context, topic string, handler func(ctx context.Context)) error {
	cmd := r.store.valkey.B().Subscribe().Channel(r.store.key(topic)).Build()

	go func() {
		err := r.store.valkey.Receive(ctx, cmd, func(msg valkey.PubSubMessage) {
			if strings.HasPrefix(msg.Message, r.instanceID+" ") {
				return
			}
			handler(ctx)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slogctx.Error(ctx, "Broadcast subscription terminated", "topic", topic, "error", err)
		}
	}()

	return nil
}
