package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"sheetcast/internal/app"
	"sheetcast/internal/config"
	"sheetcast/internal/post"
	logx "sheetcast/pkg/logx"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(out io.Writer) *cli.App {
	a := &cli.App{
		Name:    "sheetcast",
		Usage:   "Post spreadsheet worksheets to Telegram channels on a daily schedule",
		Version: app.Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "./config.json", EnvVars: []string{"SHEETCAST_CONFIG"}, Usage: "Config file (.json, .yaml, .toml)"},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "Dotenv file with secrets; missing file is ignored, empty disables"},
		},
		Before: func(c *cli.Context) error {
			return loadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			runCmd(),
			destinationsCmd(),
			postCmd(),
		},
		Action: runAction,
	}
	// Disable default exit error handler to allow proper error return in tests
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.NewManager(c.String("config")).Parse()
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the daily scheduler (default)",
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	a, err := app.New(ctx, config.NewManager(c.String("config")))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	reason := app.StopUnknown
wait:
	for {
		select {
		case s := <-sigs:
			switch s {
			case syscall.SIGHUP:
				_ = a.Reload(ctx)
				continue
			case syscall.SIGTERM:
				reason = app.StopSIGTERM
			default:
				reason = app.StopSIGINT
			}
			break wait
		case <-a.Done():
			reason = app.StopFatalError
			break wait
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func destinationsCmd() *cli.Command {
	return &cli.Command{
		Name:    "destinations",
		Aliases: []string{"dest"},
		Usage:   "Manage the persistent destination registry",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register (or replace) a destination",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "Worksheet name"},
					&cli.StringFlag{Name: "channel", Required: true, Usage: "Channel (@name or numeric chat id)"},
					&cli.StringFlag{Name: "time", Aliases: []string{"t"}, Required: true, Usage: "Daily post time, HH:MM (scheduler timezone)"},
				},
				Action: func(c *cli.Context) error {
					d := post.Destination{
						Source:  strings.TrimSpace(c.String("source")),
						Channel: strings.TrimSpace(c.String("channel")),
						At:      strings.TrimSpace(c.String("time")),
					}
					if err := d.Validate(); err != nil {
						return err
					}
					return withStore(c, func(ctx context.Context, st storeOps) error {
						if err := st.PutDestination(ctx, d); err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "registered %s -> %s at %s\n", d.Source, d.Channel, d.At)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List destinations from the config file and the registry",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output JSON"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					var stored []post.Destination
					if cfg.Storage != nil {
						err = withStoreConfig(c, cfg, func(ctx context.Context, st storeOps) error {
							stored, err = st.ListDestinations(ctx)
							return err
						})
						if err != nil {
							return err
						}
					}
					return printDestinations(c.App.Writer, cfg.Destinations, stored, c.Bool("json"))
				},
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a destination from the registry",
				ArgsUsage: "<source>",
				Action: func(c *cli.Context) error {
					source := strings.TrimSpace(c.Args().First())
					if source == "" {
						return errors.New("usage: destinations remove <source>")
					}
					return withStore(c, func(ctx context.Context, st storeOps) error {
						ok, err := st.DeleteDestination(ctx, source)
						if err != nil {
							return err
						}
						if !ok {
							return fmt.Errorf("destination %q is not in the registry", source)
						}
						fmt.Fprintf(c.App.Writer, "removed %s\n", source)
						return nil
					})
				},
			},
		},
	}
}

type storeOps interface {
	PutDestination(ctx context.Context, d post.Destination) error
	DeleteDestination(ctx context.Context, source string) (bool, error)
	ListDestinations(ctx context.Context) ([]post.Destination, error)
}

func withStore(c *cli.Context, fn func(ctx context.Context, st storeOps) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return withStoreConfig(c, cfg, fn)
}

func withStoreConfig(c *cli.Context, cfg *config.Config, fn func(ctx context.Context, st storeOps) error) error {
	st, err := app.OpenStore(cfg, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(c.Context, st)
}

type listedDestination struct {
	post.Destination
	Origin string `json:"origin"`
}

func printDestinations(w io.Writer, static, stored []post.Destination, asJSON bool) error {
	origin := map[string]string{}
	for _, d := range static {
		origin[d.Source] = "config"
	}
	for _, d := range stored {
		origin[d.Source] = "registry"
	}
	merged := app.MergeDestinations(static, stored)
	rows := make([]listedDestination, 0, len(merged))
	for _, d := range merged {
		rows = append(rows, listedDestination{Destination: d, Origin: origin[d.Source]})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].At < rows[j].At })

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tCHANNEL\tORIGIN")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.At, r.Source, r.Channel, r.Origin)
	}
	return tw.Flush()
}

func postCmd() *cli.Command {
	return &cli.Command{
		Name:  "post",
		Usage: "Post one worksheet now, outside the schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "Worksheet name"},
			&cli.StringFlag{Name: "channel", Required: true, Usage: "Channel (@name or numeric chat id)"},
		},
		Action: func(c *cli.Context) error {
			a, err := app.New(c.Context, config.NewManager(c.String("config")))
			if err != nil {
				return err
			}
			defer a.Close()

			out := a.RunOnce(c.Context, post.Destination{
				Source:  strings.TrimSpace(c.String("source")),
				Channel: strings.TrimSpace(c.String("channel")),
				At:      time.Now().Format("15:04"),
			})
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Success {
				return cli.Exit(fmt.Sprintf("post failed: %s", out.Err), 2)
			}
			return nil
		},
	}
}
