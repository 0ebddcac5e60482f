package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/fetcher"
	"github.com/yairfalse/rankwatch/internal/locks"
	"github.com/yairfalse/rankwatch/internal/notify"
	"github.com/yairfalse/rankwatch/internal/registry"
	"github.com/yairfalse/rankwatch/internal/storage"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (c *cli) registry() (*registry.Registry, error) {
	return registry.Load(c.cfg.Sources.File)
}

// source looks up one source id in the registry
func (c *cli) source(id string) (types.Source, error) {
	reg, err := c.registry()
	if err != nil {
		return types.Source{}, err
	}
	src, ok := reg.Get(id)
	if !ok {
		return types.Source{}, rwerrors.Configuration("unknown source id %q", id)
	}
	return src, nil
}

func (c *cli) openStore() (storage.Store, error) {
	store, err := storage.Open(storage.Config{
		Backend:    c.cfg.Storage.Backend,
		BaseDir:    c.cfg.Storage.BaseDir,
		SQLitePath: c.cfg.SQLiteFile(),
	})
	if err != nil {
		if _, ok := rwerrors.As(err); ok {
			return nil, err
		}
		return nil, rwerrors.StoreUnavailable(c.cfg.Storage.Backend, err)
	}
	return store, nil
}

func (c *cli) lockManager() (*locks.Manager, error) {
	mgr, err := locks.NewManager(filepath.Join(c.cfg.Storage.BaseDir, "locks"))
	if err != nil {
		return nil, rwerrors.StoreUnavailable("lock", err)
	}
	return mgr, nil
}

func (c *cli) fetcher() *fetcher.Fetcher {
	opts := fetcher.DefaultOptions()
	f := c.cfg.Fetch
	if f.UserAgent != "" {
		opts.UserAgent = f.UserAgent
	}
	opts.Retries = f.Retries
	opts.RateLimit = f.RateLimit
	if f.Burst > 0 {
		opts.Burst = f.Burst
	}
	opts.Headless = f.Headless
	opts.ChromePath = f.ChromePath
	return fetcher.New(opts, c.log)
}

// notifier builds the report outputs configured for this run
func (c *cli) notifier(console bool) notify.Notifier {
	n := c.cfg.Notify
	var out notify.Multi

	if console && n.Console {
		out = append(out, notify.NewConsole(c.out, c.noColor))
	}
	out = append(out, notify.NewReportFile(c.cfg.ReportsDir()))

	var alerts notify.Multi
	if n.Email.Enabled() {
		alerts = append(alerts, notify.NewEmail(notify.EmailOptions{
			Host:     n.Email.SMTPHost,
			Port:     n.Email.SMTPPort,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     n.Email.From,
			To:       n.Email.To,
		}))
	}
	if n.WebhookURL != "" {
		alerts = append(alerts, notify.NewWebhook(n.WebhookURL, n.WebhookFormat, Version))
	}
	if len(alerts) > 0 {
		if n.OnlyOnChange {
			out = append(out, notify.OnlyOnChange(alerts))
		} else {
			out = append(out, alerts)
		}
	}
	return out
}
