package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/offlinecache"
	"github.com/codeGROOVE-dev/offlinecache/pkg/connectivity"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

// flags holds the persistent overrides applied on top of the environment.
type flags struct {
	backend string
	dir     string
	id      string
	noColor bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	var f flags
	var cfg offlinecache.Config

	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and maintain an offline cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if cfg, err = offlinecache.LoadConfig(); err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("backend") {
				cfg.Backend = f.backend
			}
			if fs.Changed("dir") {
				cfg.Dir = f.dir
			}
			if fs.Changed("id") {
				cfg.CacheID = f.id
			}
			if f.noColor {
				color.NoColor = true
			}
			return nil
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&f.backend, "backend", "", "Storage backend: localfs, sqlite, valkey, datastore, cloudrun, memory or none")
	pf.StringVar(&f.dir, "dir", "", "Cache directory for file-based backends")
	pf.StringVar(&f.id, "id", "", "Cache identifier")
	pf.BoolVar(&f.noColor, "no-color", false, "Disable colored output")

	// open is deferred to RunE so PersistentPreRunE has populated cfg.
	open := func(cmd *cobra.Command) (*offlinecache.Cache, error) {
		return offlinecache.Open(cmd.Context(), cfg)
	}

	root.AddCommand(
		statsCmd(open),
		lsCmd(open),
		getCmd(open),
		cleanupCmd(open),
		wipeCmd(open),
		probeCmd(&cfg),
	)
	return root
}

type opener func(cmd *cobra.Command) (*offlinecache.Cache, error)

func statsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry count, size and budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck // read-only command
			s := c.Stats()

			w := cmd.OutOrStdout()
			status := okColor.Sprint("ok")
			if s.Degraded {
				status = errColor.Sprint("degraded")
			} else if !s.Indexed {
				status = warnColor.Sprint("partial index")
			}
			fmt.Fprintf(w, "status:   %s\n", status)
			fmt.Fprintf(w, "entries:  %d / %d\n", s.Entries, s.Budget.MaxEntries)
			fmt.Fprintf(w, "size:     %s / %s\n", humanize.IBytes(uint64(max(s.Bytes, 0))), humanize.IBytes(uint64(max(s.Budget.MaxBytes, 0))))
			fmt.Fprintf(w, "hot tier: %d\n", s.HotEntries)
			return nil
		},
	}
}

func lsCmd(open opener) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List cached entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck // read-only command
			return printEntries(cmd.OutOrStdout(), c.Entries(owner), time.Now())
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only list entries owned by this user")
	return cmd
}

func printEntries(w io.Writer, entries []offlinecache.EntryInfo, now time.Time) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Key", "Type", "Owner", "Size", "Stored"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.PerColumn = []tw.Align{tw.AlignLeft, tw.AlignLeft, tw.AlignLeft, tw.AlignRight, tw.AlignRight}
	})

	data := make([][]string, 0, len(entries))
	for _, e := range entries {
		age := humanize.RelTime(e.StoredAt, now, "ago", "from now")
		if now.Sub(e.StoredAt) > offlinecache.StaleAfter {
			age = warnColor.Sprint(age)
		}
		data = append(data, []string{e.Key, e.DataType, e.OwnerID, humanize.IBytes(uint64(max(e.Size, 0))), age})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func getCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print a cached value and its age",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck // read-only command

			lr := offlinecache.LoadFromCache[json.RawMessage](cmd.Context(), c, args[0])
			if lr.Err != nil {
				return lr.Err
			}
			if lr.Data == nil {
				return fmt.Errorf("%s: not cached", args[0])
			}
			w := cmd.OutOrStdout()
			age := lr.RelativeTime
			if lr.IsStale {
				age = warnColor.Sprint(age + " (stale)")
			}
			fmt.Fprintf(w, "# stored %s\n%s\n", age, *lr.Data)
			return nil
		},
	}
}

func cleanupCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete corrupt, expired and over-budget entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck // best effort

			rep, err := c.CleanupOnStartup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d corrupt, %d expired, %d over budget; %d unreadable\n",
				rep.Scanned, rep.Corrupt, rep.Expired, rep.Evicted, rep.Unreadable)
			return nil
		},
	}
}

func wipeCmd(open opener) *cobra.Command {
	var owner string
	var all bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every entry owned by a user, or everything with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if owner == "" && !all {
				return errors.New("pass --owner or --all")
			}
			c, err := open(cmd)
			if err != nil {
				return err
			}
			defer c.Close() //nolint:errcheck // best effort

			n, err := c.InvalidateAll(cmd.Context(), owner)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s entries\n", strconv.Itoa(n))
			return err
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner whose entries to delete")
	cmd.Flags().BoolVar(&all, "all", false, "Delete every entry")
	cmd.MarkFlagsMutuallyExclusive("owner", "all")
	return cmd
}

func probeCmd(cfg *offlinecache.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [URL]",
		Short: "Check whether the backend is reachable",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if len(args) == 1 {
				c.ProbeURL = args[0]
			}
			m, err := c.NewMonitor()
			if err != nil {
				return err
			}
			st, err := m.Check(cmd.Context())
			w := cmd.OutOrStdout()
			if err != nil {
				fmt.Fprintf(w, "%s %s: %v\n", errColor.Sprint("unreachable"), c.ProbeURL, err)
				return connectivity.ErrRequiresConnection
			}
			fmt.Fprintf(w, "%s %s (%s)\n", okColor.Sprint("reachable"), c.ProbeURL, st.State)
			return nil
		},
	}
}
