package cli

import (
	"fmt"
	"io"

	"github.com/rescale/csvup/internal/api"
	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/core"
	"github.com/rescale/csvup/internal/events"
	"github.com/rescale/csvup/internal/http"
	"github.com/rescale/csvup/internal/logging"
	"github.com/rescale/csvup/internal/notify"
	"github.com/rescale/csvup/internal/parse"
	"github.com/rescale/csvup/internal/resume"
	"github.com/rescale/csvup/internal/upload"
)

// loadConfig merges the config file, .env, CSVUP_* variables and global
// flags. Priority: flags > environment > config file > defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if accessKey != "" {
		cfg.AccessKey = accessKey
	}
	if uploadURL != "" {
		cfg.UploadURL = uploadURL
	}
	if existsURL != "" {
		cfg.ExistsURL = existsURL
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if noNotifications {
		cfg.ShowToastNotifications = false
	}
	if desktopNotifications {
		cfg.DesktopNotifications = true
	}
	return cfg, nil
}

// app holds the collaborators of one upload run.
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	bus         *events.EventBus
	display     *notify.WriterDisplay
	center      *notify.Center
	store       *resume.Store
	coordinator *core.Coordinator
}

// newApp wires the parse engine, the existence client and the upload
// controller into a coordinator. Notifications are written to out until
// setOutput redirects them.
func newApp(cfg *config.Config, out io.Writer, confirm core.Confirmer) (*app, error) {
	logger := GetLogger()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if http.NeedsProxyPassword(cfg) {
		pw, err := promptPassword(fmt.Sprintf("Proxy password for %s", cfg.ProxyUser))
		if err != nil {
			return nil, err
		}
		cfg.ProxyPassword = pw
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)

	display := notify.NewWriterDisplay(out)
	displays := []notify.Display{display}
	if cfg.DesktopNotifications {
		displays = append(displays, notify.NewDesktopDisplay("csvup", cfg.NotificationSound))
	}
	center := notify.NewCenter(&notify.Config{
		Enabled: cfg.NotificationsEnabled,
		Desktop: cfg.DesktopNotifications,
		Sound:   cfg.NotificationSound,
	}, logger.Named("notify"), bus, displays...)

	store, err := resume.Open(cfg.ResumeDir, logger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to open resume store: %w", err)
	}

	checker, err := api.NewClient(cfg, logger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to create existence client: %w", err)
	}

	base, err := http.CreateOptimizedClient(cfg, logger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	uploader := upload.NewController(base, store, upload.Options{
		ChunkSize:        cfg.UploadChunkSize,
		TerminateTimeout: constants.TerminateTimeout,
	}, logger)

	coordinator, err := core.New(core.Deps{
		Parser:   parse.NewEngine(parse.DefaultOptions(), logger),
		Checker:  checker,
		Uploader: uploader,
		Notifier: center,
		Bus:      bus,
		Confirm:  confirm,
		Logger:   logger,
	}, core.OptionsFromConfig(cfg))
	if err != nil {
		bus.Close()
		return nil, err
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		display:     display,
		center:      center,
		store:       store,
		coordinator: coordinator,
	}, nil
}

// setOutput redirects notifications, typically to a progress surface's writer.
func (a *app) setOutput(w io.Writer) {
	a.display.SetWriter(w)
}

func (a *app) close() {
	a.bus.Close()
}
