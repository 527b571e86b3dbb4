package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"sjsage522/modaggregator/config"
	"sjsage522/modaggregator/internal"
	"sjsage522/modaggregator/internal/crawler"
	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/internal/pagecache"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"
	"sjsage522/modaggregator/services/monitoring"
	"sjsage522/modaggregator/services/worker"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modaggregator",
		Short:         "modaggregator tracks mod releases on configurable sites.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newSitesCmd(),
		newModsCmd(),
		newSnapshotsCmd(),
		newNotificationsCmd(),
		newPreviewCmd(),
		newExtractCmd(),
	)
	return root
}

// withServices loads configuration, builds the dependencies and runs fn.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, deps *internal.Dependencies) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	deps, err := initializeServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()
	return fn(ctx, cfg, deps)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidation(fmt.Sprintf("invalid id %q", arg))
	}
	return id, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the periodic update checker and the metrics server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, cfg *config.Config, deps *internal.Dependencies) error {
				log := logger.Default

				if cfg.SitesFile != "" {
					n, err := importSites(ctx, deps, cfg.SitesFile)
					if err != nil {
						return err
					}
					log.Info().Int("sites", n).Str("file", cfg.SitesFile).Msg("Imported sites")
				}

				var srv *monitoring.Server
				if cfg.MetricsAddr != "" {
					srv = monitoring.NewServer(cfg.MetricsAddr, deps.Registry)
					go func() {
						if err := srv.Start(); err != nil {
							log.Error().Err(err).Msg("Metrics server failed")
						}
					}()
				}

				log.Info().
					Str("environment", cfg.Environment).
					Dur("check_interval", cfg.CheckInterval).
					Msg("Starting mod update worker")

				newWorker(deps, cfg).Start(ctx)

				// Graceful shutdown
				log.Info().Msg("Shutting down gracefully...")
				if srv != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				}
				return nil
			})
		},
	}
}

func newCheckCmd() *cobra.Command {
	var (
		siteID int64
		cached bool
	)
	cmd := &cobra.Command{
		Use:   "check [--site <id>] [--cached]",
		Short: "Checks sites for updates once and prints the report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, cfg *config.Config, deps *internal.Dependencies) error {
				report := newWorker(deps, cfg).CheckSites(ctx, siteID, !cached)
				if report.Err != nil {
					return report.Err
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", model.AnySite, "Only check the site with this id.")
	cmd.Flags().BoolVar(&cached, "cached", false, "Serve listing pages from the page cache when possible.")
	return cmd
}

func printReport(w io.Writer, report worker.Report) {
	for _, s := range report.Succeeded() {
		fmt.Fprintf(w, "ok     %-20s tier=%-6s new=%d updated=%d unchanged=%d store_errors=%d\n",
			s.Site.Name, s.Tier, s.Created, s.Updated, s.Unchanged, len(s.Errors))
		for _, ev := range s.Events {
			fmt.Fprintf(w, "       %s: %s → %s (%s)\n", ev.Title, ev.OldVersion, ev.NewVersion, ev.URL)
		}
	}
	for _, s := range report.Failed() {
		fmt.Fprintf(w, "failed %-20s %v\n", s.Site.Name, s.Err)
	}
}

func newSitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manages site configurations.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <sites.yaml>",
		Short: "Imports or updates sites from a YAML file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				n, err := importSites(ctx, deps, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d sites\n", n)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "Lists configured sites.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				sites, err := deps.Sites.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sites)
			})
		},
	}, &cobra.Command{
		Use:   "delete <id>",
		Short: "Deletes a site configuration.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				return deps.Sites.Delete(ctx, id)
			})
		},
	})
	return cmd
}

func newModsCmd() *cobra.Command {
	var siteID int64
	list := &cobra.Command{
		Use:   "list [--site <id>]",
		Short: "Lists tracked mods, most recently updated first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				records, err := deps.Records.List(ctx, siteID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}
	list.Flags().Int64Var(&siteID, "site", model.AnySite, "Only list mods of this site.")

	cmd := &cobra.Command{Use: "mods", Short: "Inspects tracked mods."}
	cmd.AddCommand(list)
	return cmd
}

func newSnapshotsCmd() *cobra.Command {
	var (
		siteID int64
		url    string
	)
	list := &cobra.Command{
		Use:   "list [--url <url>] [--site <id>]",
		Short: "Lists stored page versions, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				var (
					snaps []model.PageSnapshot
					err   error
				)
				if url != "" {
					snaps, err = deps.Snapshots.Versions(ctx, siteID, pagecache.Normalize(url))
				} else {
					snaps, err = deps.Snapshots.ScanAll(ctx, siteID)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snaps)
			})
		},
	}
	list.Flags().StringVar(&url, "url", "", "Only list versions of this page.")
	list.Flags().Int64Var(&siteID, "site", model.AnySite, "Only list versions stored for this site.")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Prints the HTML of one stored version.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				res, err := deps.Resolver.ResolveVersion(ctx, id)
				if err != nil {
					return err
				}
				if res == nil {
					return apperrors.NewValidation(fmt.Sprintf("no snapshot with id %d", id))
				}
				_, err = io.WriteString(cmd.OutOrStdout(), res.HTML)
				return err
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Deletes one stored version; other versions are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				return deps.Snapshots.Delete(ctx, id)
			})
		},
	}

	cmd := &cobra.Command{Use: "snapshots", Short: "Inspects the page cache."}
	cmd.AddCommand(list, show, del)
	return cmd
}

func newNotificationsCmd() *cobra.Command {
	var unread bool
	list := &cobra.Command{
		Use:   "list [--unread]",
		Short: "Lists the latest change notifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				notes, err := deps.Notifications.List(ctx, unread)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), notes)
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "Only list unread notifications.")

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Marks a notification as read.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				return deps.Notifications.MarkRead(ctx, id)
			})
		},
	}

	cmd := &cobra.Command{Use: "notifications", Short: "Manages change notifications."}
	cmd.AddCommand(list, read)
	return cmd
}

func readHTMLFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.NewValidation(fmt.Sprintf("read %s: %v", path, err))
	}
	return string(data), nil
}

func newPreviewCmd() *cobra.Command {
	var file, selector string
	cmd := &cobra.Command{
		Use:   "preview --file <page.html> --selector <css>",
		Short: "Shows what a CSS selector matches in a saved page.",
		RunE: func(cmd *cobra.Command, args []string) error {
			html, err := readHTMLFile(file)
			if err != nil {
				return err
			}
			result, err := crawler.Preview(html, selector)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "HTML file to evaluate the selector against.")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector to preview.")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("selector")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var (
		siteID int64
		file   string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "extract --site <id> [--file <page.html>] [--force]",
		Short: "Runs a site's extraction config without touching tracked mods.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, _ *config.Config, deps *internal.Dependencies) error {
				site, err := deps.Sites.Get(ctx, siteID)
				if err != nil {
					return err
				}
				if site == nil {
					return apperrors.NewValidation(fmt.Sprintf("no site with id %d", siteID))
				}

				var html string
				if file != "" {
					html, err = readHTMLFile(file)
				} else {
					html, err = deps.Resolver.Resolve(ctx, site.ListingURL(), site.ID, force)
				}
				if err != nil {
					return err
				}

				cfg := site.Config
				if cfg.BaseURL == "" {
					cfg.BaseURL = site.BaseURL()
				}
				records, err := crawler.Extract(html, cfg)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "Site whose extraction config is used.")
	cmd.Flags().StringVar(&file, "file", "", "Use this HTML file instead of the site's listing page.")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the page cache.")
	cmd.MarkFlagRequired("site")
	return cmd
}
