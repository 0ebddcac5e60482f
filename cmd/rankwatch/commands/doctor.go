package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/rankwatch/internal/archive"
	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/pkg/config"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// check is one line of the doctor report
type check struct {
	Component string
	OK        bool
	Required  bool
	Detail    string
}

func newDoctorCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check storage, browser and archive prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			checks := c.doctor(ctx, config.NewEnvironmentDetector())
			renderChecks(c, checks)

			for _, ch := range checks {
				if ch.Required && !ch.OK {
					return fmt.Errorf("%s check failed: %s", ch.Component, ch.Detail)
				}
			}
			for _, ch := range checks {
				if ch.Component == "browser" && !ch.OK {
					rwerrors.DisplayWarning(c.out, "sources with fetch kind browser will fail until Chrome is installed")
				}
			}
			rwerrors.DisplaySuccess(c.out, "all required checks passed")
			return nil
		},
	}
}

func (c *cli) doctor(ctx context.Context, detector *config.EnvironmentDetector) []check {
	var checks []check

	reg, err := c.registry()
	if err != nil {
		checks = append(checks, check{Component: "sources", Required: true, Detail: err.Error()})
	} else {
		checks = append(checks, check{Component: "sources", OK: true, Required: true,
			Detail: fmt.Sprintf("%d sources loaded", reg.Len())})
	}

	store, err := c.openStore()
	if err == nil {
		err = store.Ping(ctx)
		store.Close()
	}
	storeCheck := check{Component: "storage", Required: true, OK: err == nil,
		Detail: fmt.Sprintf("%s backend at %s", backendName(c.cfg.Storage.Backend), c.cfg.Storage.BaseDir)}
	if err != nil {
		storeCheck.Detail = err.Error()
	}
	checks = append(checks, storeCheck)

	// a browser is only required when a source fetches through one
	needBrowser := false
	if reg != nil {
		for _, src := range reg.Sources() {
			if src.Fetch.Kind == types.FetchBrowser {
				needBrowser = true
			}
		}
	}

	env := detector.DetectAll(c.cfg.Fetch.ChromePath)
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	var archiveBackend string
	if target, err := archive.ParseURL(c.cfg.Archive.URL); err == nil {
		archiveBackend = target.Backend
		if archiveBackend == archive.BackendAzure {
			archiveBackend = "azblob"
		}
	}
	for _, name := range names {
		res := env[name]
		ch := check{Component: name, OK: res.Available, Detail: res.Status}
		if res.Path != "" {
			ch.Detail += " (" + res.Path + ")"
		}
		switch name {
		case "browser":
			ch.Required = needBrowser
		default:
			ch.Required = archiveBackend == name
		}
		checks = append(checks, ch)
	}

	if c.cfg.Archive.URL != "" {
		desc, err := archive.Describe(c.cfg.Archive.URL)
		ch := check{Component: "archive", Required: true, OK: err == nil, Detail: desc}
		if err != nil {
			ch.Detail = err.Error()
		}
		checks = append(checks, ch)
	}

	return checks
}

func renderChecks(c *cli, checks []check) {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Component", "Status", "Detail"})
	for _, ch := range checks {
		var status string
		switch {
		case ch.OK:
			status = color.GreenString("ok")
		case ch.Required:
			status = color.RedString("missing")
		default:
			status = color.HiBlackString("optional")
		}
		t.AppendRow(table.Row{ch.Component, status, ch.Detail})
	}
	t.Render()
}

func backendName(b string) string {
	if b == "" {
		return "file"
	}
	return b
}
