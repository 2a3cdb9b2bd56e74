package cli

import (
	"fmt"

	"github.com/diodelink/diodelink/internal/api"
	"github.com/diodelink/diodelink/internal/config"
	"github.com/diodelink/diodelink/internal/encryption"
	"github.com/diodelink/diodelink/internal/events"
	"github.com/diodelink/diodelink/internal/identity"
	"github.com/diodelink/diodelink/internal/notify"
	"github.com/diodelink/diodelink/internal/transport"
	"github.com/diodelink/diodelink/internal/upload"
)

// app wires the configuration, event bus, transport pipeline and upload
// engine together for one command invocation.
type app struct {
	cfg      *config.Config
	bus      *events.Bus
	identity *identity.Store
	api      *api.Client
	uploads  *upload.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(0)
	store := identity.NewStore()
	notifier := notify.New(bus, GetLogger(), cfg.ToastLifetime)

	pipeline, err := transport.NewClient(transport.Options{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.APITimeout,
		LoginPath:     cfg.LoginPath,
		DevRemoteUser: cfg.DevRemoteUser,
		Notifier:      notifier,
		Identity:      store,
		Logger:        GetLogger(),
	})
	if err != nil {
		return nil, err
	}
	apiClient := api.NewClient(pipeline, cfg.LoginPath)

	var recipient *encryption.Recipient
	if cfg.RecipientPublicKey != "" {
		recipient, err = encryption.LoadRecipient(cfg.RecipientPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient public key: %w", err)
		}
	}

	return &app{
		cfg:      cfg,
		bus:      bus,
		identity: store,
		api:      apiClient,
		uploads:  upload.New(apiClient, recipient, int64(cfg.TransferableMaxSize), bus, GetLogger()),
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
}
