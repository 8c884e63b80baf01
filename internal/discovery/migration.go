package discovery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solarb/internal/store"
)

// DefaultMigrationURL is the public migration event stream.
const DefaultMigrationURL = "wss://pumpportal.fun/api/data"

// MigrationListener subscribes to the graduation stream and records
// newly migrated mints on the durable token list.
type MigrationListener struct {
	url            string
	tokens         *store.TokenList
	logger         *zap.Logger
	reconnectDelay time.Duration

	// OnMint, when set, is called for every newly recorded mint.
	OnMint func(mint string)
}

// NewMigrationListener builds a listener. An empty url selects the
// public stream.
func NewMigrationListener(url string, tokens *store.TokenList, logger *zap.Logger) *MigrationListener {
	if url == "" {
		url = DefaultMigrationURL
	}
	return &MigrationListener{
		url:            url,
		tokens:         tokens,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
	}
}

type migrationMessage struct {
	Mint string `json:"mint"`
}

// Run keeps a subscription alive until the context is cancelled,
// reconnecting after a short delay whenever the stream drops.
func (l *MigrationListener) Run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn("migration stream dropped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *MigrationListener) listen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"method": "subscribeMigration"}); err != nil {
		return err
	}
	l.logger.Info("migration stream connected", zap.String("url", l.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg migrationMessage
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Mint == "" {
			continue
		}
		added, err := l.tokens.Add(msg.Mint)
		if err != nil {
			l.logger.Warn("failed to persist migrated mint", zap.String("mint", msg.Mint), zap.Error(err))
			continue
		}
		if !added {
			continue
		}
		l.logger.Info("new migrated mint", zap.String("mint", msg.Mint))
		if l.OnMint != nil {
			l.OnMint(msg.Mint)
		}
	}
}
