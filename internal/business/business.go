package business

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/authapi"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/config"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
	sessionvalkey "github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session/valkey"
)

// AgentMain runs the long-lived session agent: restore the persisted
// session, keep the token fresh and reconcile with other agents until the
// context is cancelled.
func AgentMain(ctx context.Context, cfg *config.Config) error {
	manager, _, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}
	defer closeFn()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting the session manager: %w", err)
	}
	defer manager.Close()

	snapshot := manager.Current()
	slogctx.Info(ctx, "Session agent running",
		"authenticated", snapshot.Authenticated,
		"user", snapshot.DisplayName,
		"role", snapshot.Role,
	)

	<-ctx.Done()

	return nil
}

// LoginMain performs the initial password login and adopts the issued pair.
func LoginMain(ctx context.Context, cfg *config.Config, username, password string) error {
	manager, auth, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}
	defer closeFn()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting the session manager: %w", err)
	}
	defer manager.Close()

	pair, err := auth.Login(ctx, username, password)
	if err != nil {
		// Raw cause stays in the logs; the user gets a generic message.
		slogctx.Warn(ctx, "Login rejected", "error", err)
		return fmt.Errorf("login failed")
	}

	if err := manager.Login(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("login failed")
	}

	snapshot := manager.Current()
	slogctx.Info(ctx, "Session established",
		"user", snapshot.DisplayName,
		"role", snapshot.Role,
		"expiry", snapshot.Expiry,
	)

	return nil
}

// LogoutMain clears the session everywhere: best-effort server logout,
// persisted tokens, and a broadcast for other agents.
func LogoutMain(ctx context.Context, cfg *config.Config) error {
	manager, _, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}
	defer closeFn()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting the session manager: %w", err)
	}
	defer manager.Close()

	return manager.Logout(ctx)
}

// StatusMain reports the local session snapshot and, when authenticated,
// the server-side view of the user.
func StatusMain(ctx context.Context, cfg *config.Config) error {
	manager, auth, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}
	defer closeFn()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting the session manager: %w", err)
	}
	defer manager.Close()

	snapshot := manager.Current()
	if !snapshot.Authenticated {
		slogctx.Info(ctx, "No active session")
		return nil
	}

	slogctx.Info(ctx, "Active session",
		"user", snapshot.DisplayName,
		"role", snapshot.Role,
		"expiry", snapshot.Expiry,
	)

	token, err := manager.GetValidToken(ctx)
	if err != nil {
		return fmt.Errorf("session expired and could not be refreshed")
	}

	info, err := auth.Me(ctx, token)
	if err != nil {
		slogctx.Warn(ctx, "Could not fetch server-side user info", "error", err)
		return nil
	}

	slogctx.Info(ctx, "Server-side user",
		"username", info.Username,
		"role", info.Role,
		"active", info.IsActive != 0,
	)

	return nil
}

func initSessionManager(ctx context.Context, cfg *config.Config) (_ *session.Manager, _ *authapi.Client, closeFn func(), _ error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	repo := sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix)

	auth, err := authapi.NewClient(cfg.AuthAPI.BaseURL, &http.Client{Timeout: cfg.AuthAPI.Timeout})
	if err != nil {
		valkeyClient.Close()
		return nil, nil, nil, fmt.Errorf("creating auth API client: %w", err)
	}

	manager, err := session.NewManager(repo, repo, auth, session.Config{
		RefreshWindow:  cfg.Session.RefreshWindow,
		CheckInterval:  cfg.Session.CheckInterval,
		ClaimsCacheTTL: cfg.Session.ClaimsCacheTTL,
	})
	if err != nil {
		valkeyClient.Close()
		return nil, nil, nil, fmt.Errorf("creating session manager: %w", err)
	}

	return manager, auth, valkeyClient.Close, nil
}
