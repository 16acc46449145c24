package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/shotboard/internal/adapters/server"
	"github.com/hylla/shotboard/internal/adapters/server/common"
	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
)

// withRuntime opens the store for one command and runs fn as the resolved CLI actor.
func (c *cli) withRuntime(cmd *cobra.Command, name string, fn func(ctx context.Context, rt *cliRuntime, actor domain.Actor) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, c.opts, c.stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	actor, err := rt.actor(c.opts)
	if err != nil {
		return err
	}
	rt.logger.Debug("command flow start", "command", name, "actor", actor.Name, "role", actor.Role)
	if err := fn(app.WithActor(ctx, actor), rt, actor); err != nil {
		rt.logger.Debug("command flow failed", "command", name, "err", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	rt.logger.Debug("command flow complete", "command", name)
	return nil
}

// render prints v as JSON when --json is set and runs the table renderer otherwise.
func (c *cli) render(v any, table func(io.Writer) error) error {
	if c.opts.jsonOutput {
		return writeJSON(c.stdout, v)
	}
	return table(c.stdout)
}

func (c *cli) newServeCommand() *cobra.Command {
	var httpBind, apiEndpoint, mcpEndpoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and MCP endpoint over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := openRuntime(ctx, c.opts, c.stderr)
			if err != nil {
				return err
			}
			defer rt.Close()

			authenticator, err := newAuthenticator(ctx, rt.cfg.Auth)
			if err != nil {
				return err
			}
			cfg := server.Config{
				HTTPBind:      firstNonEmpty(httpBind, rt.cfg.Server.HTTPBind),
				APIEndpoint:   firstNonEmpty(apiEndpoint, rt.cfg.Server.APIEndpoint),
				MCPEndpoint:   firstNonEmpty(mcpEndpoint, rt.cfg.Server.MCPEndpoint),
				ServerName:    "shotboard",
				ServerVersion: version,
			}
			rt.logger.Info("command flow start", "command", "serve", "http", cfg.HTTPBind, "auth_mode", rt.cfg.Auth.Mode, "policy", rt.service.Policy().Name())
			err = serveCommandRunner(ctx, cfg, server.Dependencies{
				Service:       rt.adapter,
				Authenticator: authenticator,
				Logger:        rt.logger,
				Ready:         rt.ready,
			})
			if err != nil {
				rt.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			rt.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "listen address (default server.http_bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "REST API base path (default server.api_endpoint)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP endpoint path (default server.mcp_endpoint)")
	return cmd
}

func (c *cli) newPathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			paths, err := c.opts.resolvePaths()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.stdout, "app: %s\n", c.opts.appName)
			_, _ = fmt.Fprintf(c.stdout, "dev_mode: %t\n", c.opts.devMode)
			_, _ = fmt.Fprintf(c.stdout, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(c.stdout, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(c.stdout, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(c.stdout, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

func (c *cli) newSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the local actor, its capabilities, and the transition policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, "whoami", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				session, err := rt.adapter.Session(ctx)
				if err != nil {
					return err
				}
				return c.render(session, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s (%s)\ncapabilities: %s\npolicy: %s\n",
						session.Name, session.Role, strings.Join(session.Capabilities, ", "), session.Policy)
					return err
				})
			})
		},
	}
}

func (c *cli) newActsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acts",
		Short: "List, show, and create acts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List acts in sort order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, "acts list", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				acts, err := rt.adapter.ListActs(ctx)
				if err != nil {
					return err
				}
				return c.render(acts, func(w io.Writer) error {
					return writeTable(w, []string{"Code", "Name", "Order", "Created"}, actRows(acts))
				})
			})
		},
	}

	show := &cobra.Command{
		Use:   "show CODE",
		Short: "Show one act",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, "acts show", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				act, err := rt.adapter.GetAct(ctx, args[0])
				if err != nil {
					return err
				}
				return c.render(act, func(w io.Writer) error {
					return writeTable(w, []string{"Code", "Name", "Order", "Created"}, actRows([]common.Act{act}))
				})
			})
		},
	}

	var sortOrder int
	create := &cobra.Command{
		Use:   "create CODE NAME",
		Short: "Create an act (requires manage_productions)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := common.CreateActRequest{Code: args[0], Name: args[1]}
			if cmd.Flags().Changed("sort-order") {
				req.SortOrder = &sortOrder
			}
			return c.withRuntime(cmd, "acts create", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				act, err := rt.adapter.CreateAct(ctx, req)
				if err != nil {
					return err
				}
				return c.render(act, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "created act %s (%s) at position %d\n", act.Code, act.Name, act.SortOrder)
					return err
				})
			})
		},
	}
	create.Flags().IntVar(&sortOrder, "sort-order", 0, "explicit sort order (default: after the last act)")

	cmd.AddCommand(list, show, create)
	return cmd
}

func (c *cli) newShotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shots",
		Short: "List, show, and create shots",
	}

	var filter common.ListShotsRequest
	list := &cobra.Command{
		Use:   "list",
		Short: "List shots ordered by act and shot code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, "shots list", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				shots, err := rt.adapter.ListShots(ctx, filter)
				if err != nil {
					return err
				}
				return c.render(shots, func(w io.Writer) error {
					return writeTable(w, []string{"ID", "Shot", "Frames", "Priority", "Departments"}, shotRows(shots))
				})
			})
		},
	}
	list.Flags().StringVar(&filter.ActCode, "act", "", "only shots in this act")
	list.Flags().StringVar(&filter.Priority, "priority", "", "only shots with this priority")
	list.Flags().StringVar(&filter.Department, "department", "", "only shots with a row for this department")
	list.Flags().StringVar(&filter.Status, "status", "", "only shots with a row in this status")
	list.Flags().StringVar(&filter.Search, "search", "", "case-insensitive substring of the full code")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one shot with its department rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseShotID(args[0])
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, "shots show", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				shot, err := rt.adapter.GetShot(ctx, id)
				if err != nil {
					return err
				}
				return c.render(shot, func(w io.Writer) error {
					_, _ = fmt.Fprintf(w, "%s  frames %d-%d  priority %s\n", shot.FullCode, shot.FrameStart, shot.FrameEnd, shot.Priority)
					if shot.Notes != "" {
						_, _ = fmt.Fprintf(w, "notes: %s\n", shot.Notes)
					}
					if len(shot.Departments) == 0 {
						_, err := fmt.Fprintln(w, "no department status recorded")
						return err
					}
					return writeTable(w, []string{"Department", "Status", "Assignee", "Updated by", "Updated"}, departmentRows(shot.Departments))
				})
			})
		},
	}

	var in domain.ShotInput
	var priority string
	create := &cobra.Command{
		Use:   "create ACT CODE",
		Short: "Create a shot in an act (requires manage_productions)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActCode, in.Code, in.Priority = args[0], args[1], domain.Priority(priority)
			return c.withRuntime(cmd, "shots create", func(ctx context.Context, rt *cliRuntime, actor domain.Actor) error {
				shot, err := rt.service.CreateShot(ctx, actor, in)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(c.stdout, "created shot %s (id %d)\n", shot.FullCode(), shot.ID)
				return err
			})
		},
	}
	create.Flags().IntVar(&in.FrameStart, "frame-start", 0, "first frame (default 1001)")
	create.Flags().IntVar(&in.FrameEnd, "frame-end", 0, "last frame (default 1120)")
	create.Flags().StringVar(&priority, "priority", "", "low, medium, high, or critical (default medium)")
	create.Flags().StringVar(&in.Notes, "notes", "", "free-form notes")

	var history common.StatusHistoryRequest
	historyCmd := &cobra.Command{
		Use:   "history ID",
		Short: "Show the status audit trail for a shot, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseShotID(args[0])
			if err != nil {
				return err
			}
			req := history
			req.ShotID = id
			return c.withRuntime(cmd, "shots history", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				entries, err := rt.adapter.ListStatusHistory(ctx, req)
				if err != nil {
					return err
				}
				return c.render(entries, func(w io.Writer) error {
					return writeTable(w, []string{"ID", "Department", "Change", "By", "At"}, historyRows(entries))
				})
			})
		},
	}
	historyCmd.Flags().StringVar(&history.Department, "department", "", "only entries for this department")
	historyCmd.Flags().IntVar(&history.Limit, "limit", 0, "maximum entries (default 100)")

	cmd.AddCommand(list, show, create, historyCmd)
	return cmd
}

func (c *cli) newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Change department status for one or many shots",
	}

	var assignee string
	set := &cobra.Command{
		Use:   "set ID DEPARTMENT STATUS",
		Short: "Set one shot's department status and record it in the audit trail",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseShotID(args[0])
			if err != nil {
				return err
			}
			req := common.SetShotStatusRequest{ShotID: id, Department: args[1], Status: args[2]}
			if cmd.Flags().Changed("assignee") {
				req.Assignee = &assignee
			}
			return c.withRuntime(cmd, "status set", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				row, err := rt.adapter.SetShotStatus(ctx, req)
				if err != nil {
					return err
				}
				return c.render(row, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "shot %d %s -> %s (by %s)\n", row.ShotID, row.Department, row.Status, row.UpdatedBy)
					return err
				})
			})
		},
	}
	set.Flags().StringVar(&assignee, "assignee", "", "assignee to record; an empty value clears it")

	bulk := &cobra.Command{
		Use:   "bulk DEPARTMENT STATUS ID...",
		Short: "Apply one status to many shots as a single all-or-nothing batch",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args)-2)
			for _, raw := range args[2:] {
				id, err := parseShotID(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			req := common.BulkSetStatusRequest{ShotIDs: ids, Department: args[0], Status: args[1]}
			return c.withRuntime(cmd, "status bulk", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				updated, err := rt.adapter.BulkSetStatus(ctx, req)
				if err != nil {
					return err
				}
				message := fmt.Sprintf("Updated %d shot(s): %s -> %s", updated, req.Department, req.Status)
				return c.render(map[string]any{"message": message, "updated": updated}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, message)
					return err
				})
			})
		},
	}

	cmd.AddCommand(set, bulk)
	return cmd
}

func (c *cli) newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats ACT",
		Short: "Show per-department approval over recorded rows for an act",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, "stats", func(ctx context.Context, rt *cliRuntime, _ domain.Actor) error {
				stats, err := rt.adapter.ActStats(ctx, args[0])
				if err != nil {
					return err
				}
				return c.render(stats, func(w io.Writer) error {
					_, _ = fmt.Fprintf(w, "%s: %d shot(s)\n", stats.ActCode, stats.ShotCount)
					return writeTable(w, []string{"Department", "Approved", "Percent"}, statsRows(stats))
				})
			})
		},
	}
}

func (c *cli) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Create acts and shots from a YAML manifest ('-' reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := readManifest(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, "import", func(ctx context.Context, rt *cliRuntime, actor domain.Actor) error {
				report, err := rt.service.ImportManifest(ctx, actor, manifest)
				if err != nil {
					return err
				}
				rt.logger.Info("manifest imported", "acts_created", report.ActsCreated, "shots_created", report.ShotsCreated)
				_, err = fmt.Fprintf(c.stdout, "acts: %d created, %d skipped\nshots: %d created, %d skipped\n",
					report.ActsCreated, report.ActsSkipped, report.ShotsCreated, report.ShotsSkipped)
				return err
			})
		},
	}
}

// readManifest parses a manifest from path or stdin.
func readManifest(stdin io.Reader, path string) (app.Manifest, error) {
	if strings.TrimSpace(path) == "-" {
		return app.ParseManifest(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return app.Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	return app.ParseManifest(f)
}

func parseShotID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid shot id %q", raw)
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
