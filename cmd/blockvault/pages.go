package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/blockvault/internal/app"
	"github.com/vonshlovens/blockvault/internal/page"
	"github.com/vonshlovens/blockvault/internal/share"
	"github.com/vonshlovens/blockvault/internal/sync"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the sync queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				ops := a.Queue.GetQueuedOperations()
				if len(ops) == 0 {
					fmt.Println("Queue is empty.")
					return nil
				}
				for _, op := range ops {
					fmt.Printf("%s  %-7s %-8s %-9s note=%s retries=%d/%d\n",
						op.ID, op.Type, op.Priority, op.Status, op.NoteID, op.RetryCount, op.MaxRetries)
					if op.NextRetry != nil {
						fmt.Printf("    next retry: %s\n", op.NextRetry.Format(time.RFC3339))
					}
					if op.LastError != "" {
						fmt.Printf("    last error: %s\n", op.LastError)
					}
				}
				return nil
			})
		},
	}

	retry := &cobra.Command{
		Use:   "retry <operation-id>",
		Short: "Make a failed or waiting operation ready again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Queue.Retry(args[0]); err != nil {
					return err
				}
				fmt.Printf("Operation %s queued for retry.\n", args[0])
				return nil
			})
		},
	}

	discard := &cobra.Command{
		Use:   "discard <operation-id>",
		Short: "Drop an operation without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Queue.Discard(args[0]); err != nil {
					return err
				}
				fmt.Printf("Operation %s discarded.\n", args[0])
				return nil
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				n, err := a.Queue.Clear(yes)
				if err != nil {
					if errors.Is(err, sync.ErrNotConfirmed) {
						return fmt.Errorf("%w: pass --yes to clear the queue", err)
					}
					return err
				}
				fmt.Printf("Discarded %d operations.\n", n)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm discarding every operation")

	cmd.AddCommand(list, retry, discard, clearCmd)
	return cmd
}

func pageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Manage pages",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pages as a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				for _, e := range a.ListPages() {
					marker := ""
					if e.Page.Metadata.Favorite {
						marker = " *"
					}
					fmt.Printf("%s%s %s%s  (%s, v%d)\n",
						strings.Repeat("  ", e.Depth), e.Page.Icon, e.Page.Title, marker, e.Page.ID, e.Page.Metadata.Version)
				}
				return nil
			})
		},
	}

	var parent, icon string
	var tags []string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				req := page.CreateRequest{Title: args[0], Icon: icon, Tags: tags}
				if parent != "" {
					p, err := a.FindPage(parent)
					if err != nil {
						return err
					}
					req.ParentID = p.ID
				}
				p, err := a.CreatePage(ctx, req)
				if err != nil {
					return err
				}
				fmt.Printf("Created page %s\n", p.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&parent, "parent", "", "parent page id or title")
	create.Flags().StringVar(&icon, "icon", "", "page icon")
	create.Flags().StringSliceVar(&tags, "tag", nil, "page tag (repeatable)")

	del := &cobra.Command{
		Use:   "delete <page>",
		Short: "Move a page and its subpages to the trash",
		Args:  cobra.ExactArgs(1),
		RunE: pageAction(func(ctx context.Context, a *app.App, p *page.Page, args []string) error {
			ids, err := a.DeletePage(ctx, p.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Moved %d pages to the trash.\n", len(ids))
			return nil
		}),
	}

	restore := &cobra.Command{
		Use:   "restore <page-id>",
		Short: "Restore a page from the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				p, err := a.RestorePage(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Restored %s\n", p.Title)
				return nil
			})
		},
	}

	purge := &cobra.Command{
		Use:   "purge <page-id>",
		Short: "Permanently delete a page and its subpages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				ids, err := a.PurgePage(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Purged %d pages.\n", len(ids))
				return nil
			})
		},
	}

	trash := &cobra.Command{
		Use:   "trash",
		Short: "List pages in the trash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				for _, p := range a.Pages.Trash(app.Workspace) {
					deleted := ""
					if p.Metadata.DeletedAt != nil {
						deleted = p.Metadata.DeletedAt.Format(time.RFC3339)
					}
					fmt.Printf("%s  %s  deleted %s\n", p.ID, p.Title, deleted)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, create, del, restore, purge, trash)
	return cmd
}

// pageAction resolves the first argument to a page before running fn with
// the remaining arguments
func pageAction(fn func(ctx context.Context, a *app.App, p *page.Page, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			p, err := a.FindPage(args[0])
			if err != nil {
				return err
			}
			return fn(ctx, a, p, args[1:])
		})
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Page version history",
	}

	list := &cobra.Command{
		Use:   "list <page>",
		Short: "List the versions of a page",
		Args:  cobra.ExactArgs(1),
		RunE: pageAction(func(ctx context.Context, a *app.App, p *page.Page, args []string) error {
			versions, err := a.Versions(ctx, p.ID)
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Printf("v%-4d %s  %-7s +%d -%d  %s\n",
					v.Version, v.Timestamp.Format(time.RFC3339), v.ChangeType, v.LinesAdded, v.LinesRemoved, v.ChangeDescription)
			}
			return nil
		}),
	}

	diff := &cobra.Command{
		Use:   "diff <page> <from> <to>",
		Short: "Show the difference between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: pageAction(func(ctx context.Context, a *app.App, p *page.Page, args []string) error {
			from, to, err := versionArgs(args)
			if err != nil {
				return err
			}
			cmp, err := a.CompareVersions(ctx, p.ID, from, to)
			if err != nil {
				return err
			}
			fmt.Print(cmp.Unified)
			s := cmp.Summary
			fmt.Printf("\n%d lines added, %d removed, %d modified\n", s.LinesAdded, s.LinesRemoved, s.LinesModified)
			return nil
		}),
	}

	restore := &cobra.Command{
		Use:   "restore <page> <version>",
		Short: "Restore a page to an earlier version",
		Args:  cobra.ExactArgs(2),
		RunE: pageAction(func(ctx context.Context, a *app.App, p *page.Page, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			entry, err := a.RestoreVersion(ctx, p.ID, v)
			if err != nil {
				return err
			}
			fmt.Printf("Restored %s to version %d as version %d.\n", p.Title, v, entry.Version)
			return nil
		}),
	}

	var desc string
	snapshot := &cobra.Command{
		Use:   "snapshot [page]",
		Short: "Record a version of one page, or of every page",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if len(args) == 0 {
					n, err := a.SnapshotAll(ctx, desc)
					fmt.Printf("Recorded %d versions.\n", n)
					return err
				}
				p, err := a.FindPage(args[0])
				if err != nil {
					return err
				}
				entry, created, err := a.Snapshot(ctx, p.ID, desc)
				if err != nil {
					return err
				}
				if !created {
					fmt.Println("No changes since the last version.")
					return nil
				}
				fmt.Printf("Recorded version %d.\n", entry.Version)
				return nil
			})
		},
	}
	snapshot.Flags().StringVarP(&desc, "message", "m", "", "version description")

	cmd.AddCommand(list, diff, restore, snapshot)
	return cmd
}

func versionArgs(args []string) (from, to int, err error) {
	if from, err = strconv.Atoi(args[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	if to, err = strconv.Atoi(args[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid version %q: %w", args[1], err)
	}
	return from, to, nil
}

func exportCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export [page]",
		Short: "Export pages as markdown",
		Long:  `Prints one page as markdown, or writes every page to --out as a markdown file.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					p, err := a.FindPage(args[0])
					if err != nil {
						return err
					}
					out, err := a.ExportPage(ctx, p.ID)
					if err != nil {
						return err
					}
					if outDir == "" {
						fmt.Print(out)
						return nil
					}
					return writeExport(outDir, p, out)
				}

				if outDir == "" {
					return fmt.Errorf("--out is required when exporting every page")
				}
				entries := a.ListPages()
				bar := progressbar.NewOptions(len(entries),
					progressbar.OptionSetDescription("Exporting pages"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(40),
					progressbar.OptionClearOnFinish(),
				)
				for _, e := range entries {
					out, err := a.ExportPage(ctx, e.Page.ID)
					if err != nil {
						return err
					}
					if err := writeExport(outDir, e.Page, out); err != nil {
						return err
					}
					bar.Add(1)
				}
				bar.Finish()
				fmt.Printf("Exported %d pages to %s\n", len(entries), outDir)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory")
	return cmd
}

func writeExport(dir string, p *page.Page, content string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, app.ExportFileName(p.Title))
	if _, err := os.Stat(path); err == nil {
		// two pages share a title
		path = filepath.Join(dir, strings.TrimSuffix(app.ExportFileName(p.Title), ".md")+" "+p.ID[:8]+".md")
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func importCmd() *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "import <file-or-dir>",
		Short: "Import markdown files as pages",
		Long:  `Imports a markdown file, or every markdown file under a directory. Re-importing a file updates the page it created.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				info, err := os.Stat(args[0])
				if err != nil {
					return err
				}

				if !info.IsDir() {
					parentID := ""
					if parent != "" {
						pp, err := a.FindPage(parent)
						if err != nil {
							return err
						}
						parentID = pp.ID
					}
					p, err := a.ImportFile(ctx, args[0], "", parentID)
					if err != nil {
						return err
					}
					fmt.Printf("Imported %s as %s\n", args[0], p.ID)
					return nil
				}

				var bar *progressbar.ProgressBar
				ids, err := a.ImportDir(ctx, args[0], func(done, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetDescription("Importing files"),
							progressbar.OptionShowCount(),
							progressbar.OptionSetWidth(40),
							progressbar.OptionClearOnFinish(),
						)
					}
					bar.Set(done)
				})
				if bar != nil {
					bar.Finish()
				}
				fmt.Printf("Imported %d files.\n", len(ids))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent page for a single imported file")
	return cmd
}

func shareCmd() *cobra.Command {
	var abilities []string
	var expires time.Duration

	cmd := &cobra.Command{
		Use:   "share <page> <audience-did>",
		Short: "Create a share link granting another identity access to a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				p, err := a.FindPage(args[0])
				if err != nil {
					return err
				}
				req := share.CreateRequest{
					NoteID:    p.ID,
					Audience:  args[1],
					ExpiresIn: expires,
				}
				for _, ab := range abilities {
					req.Abilities = append(req.Abilities, share.Ability(ab))
				}

				link, err := a.SharePage(ctx, req)
				if err != nil {
					return err
				}
				fmt.Println(link.URL)
				if link.Delegation.ExpiresAt != nil {
					fmt.Printf("Expires: %s\n", link.Delegation.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&abilities, "can", []string{string(share.AbilityRead)}, "granted abilities (note/read, note/comment, note/write)")
	cmd.Flags().DurationVar(&expires, "expires", 0, "link lifetime, 0 never expires")

	verify := &cobra.Command{
		Use:   "verify <link>",
		Short: "Check a share link and show its delegation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				d, err := a.Share.Resolve(ctx, args[0])
				if d != nil {
					fmt.Printf("Issuer:   %s\n", d.Issuer)
					fmt.Printf("Audience: %s\n", d.Audience)
					fmt.Printf("Page:     %s\n", d.NoteID)
					fmt.Printf("Can:      %v\n", d.Abilities)
				}
				return err
			})
		},
	}
	cmd.AddCommand(verify)
	return cmd
}
