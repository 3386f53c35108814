// Package main provides the Mantle command line launcher. It manages browser
// profiles (create, list, trash, restore) and launches isolated browser
// sessions for them, one persistent Chromium context per profile.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/entrhq/mantle/pkg/config"
	"github.com/entrhq/mantle/pkg/events"
	"github.com/entrhq/mantle/pkg/fingerprint"
	"github.com/entrhq/mantle/pkg/logging"
	"github.com/entrhq/mantle/pkg/profile"
	"github.com/entrhq/mantle/pkg/proxy"
	"github.com/entrhq/mantle/pkg/session"
	"github.com/entrhq/mantle/pkg/store"
	"github.com/entrhq/mantle/pkg/types"
	"github.com/entrhq/mantle/pkg/vault"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigFile  string
	DataDir     string
	Headless    bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("Mantle v%s\n", version)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := run(ctx, cli, args[0], args[1:]); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "mantle: %v\n", err)
		os.Exit(1)
	}
	cancel()
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", config.DefaultPath(), "Path to configuration file (YAML)")
	flag.StringVar(&cli.DataDir, "data-dir", "", "Override the data directory")
	flag.BoolVar(&cli.Headless, "headless", false, "Launch browsers without a visible window")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Mantle - Browser Profile Launcher\n\n")
		fmt.Fprintf(os.Stderr, "Usage: mantle [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  create -name <name> [-os <os>] [-tags a,b] [-proxy <spec>] [-notes <text>]\n")
		fmt.Fprintf(os.Stderr, "  list [-folder <id>] [-tag <tag>] [-name <pattern>]\n")
		fmt.Fprintf(os.Stderr, "  show <id>\n")
		fmt.Fprintf(os.Stderr, "  delete <id>          move a profile to the trash\n")
		fmt.Fprintf(os.Stderr, "  trash                list trash entries\n")
		fmt.Fprintf(os.Stderr, "  restore <id>         restore a trashed profile\n")
		fmt.Fprintf(os.Stderr, "  purge <id>           permanently remove a trashed profile\n")
		fmt.Fprintf(os.Stderr, "  launch <id> [id...]  start sessions and wait until they end\n")
		fmt.Fprintf(os.Stderr, "  tags                 list tags with profile counts\n")
		fmt.Fprintf(os.Stderr, "  folders              list folders with profile counts\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return cli
}

// app bundles the wired components every command needs.
type app struct {
	cfg  config.Config
	log  *logging.Logger
	bus  *events.Bus
	repo *profile.Repository
}

func newApp(cli *CLIConfig) (*app, error) {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}
	if cli.Headless {
		cfg.Headless = true
	}

	log, err := logging.NewLogger("cli")
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	v, err := vault.Open(cfg.KeyPath())
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	repo, err := profile.New(st, v, bus, log)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, bus: bus, repo: repo}, nil
}

func (a *app) close() {
	a.bus.Close()
	_ = a.log.Close()
}

func run(ctx context.Context, cli *CLIConfig, command string, args []string) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "create":
		return cmdCreate(a, args)
	case "list":
		return cmdList(a, args)
	case "show":
		return cmdShow(a, args)
	case "delete":
		return cmdDelete(a, args)
	case "trash":
		return cmdTrash(a)
	case "restore":
		return cmdRestore(a, args)
	case "purge":
		return cmdPurge(a, args)
	case "launch":
		return cmdLaunch(ctx, a, args)
	case "tags":
		return cmdTags(a)
	case "folders":
		return cmdFolders(a)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdCreate(a *app, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "Profile name (required)")
	osType := fs.String("os", "macos", "OS to imitate: windows, macos, linux")
	tags := fs.String("tags", "", "Comma-separated tags")
	proxySpec := fs.String("proxy", "", "Proxy, as url or host:port[:user:pass]")
	folder := fs.String("folder", "", "Folder id")
	notes := fs.String("notes", "", "Free-form notes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := types.NewProfile(*name)
	p.OS = types.OSType(*osType)
	p.FolderID = *folder
	p.Notes = *notes
	if *tags != "" {
		for _, t := range strings.Split(*tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.Tags = append(p.Tags, t)
			}
		}
	}
	if *proxySpec != "" {
		pc, err := proxy.Parse(*proxySpec)
		if err != nil {
			return err
		}
		p.Proxy = pc
	}

	if err := a.repo.Add(p); err != nil {
		return err
	}
	fmt.Println(p.ID)
	return nil
}

func cmdList(a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	folder := fs.String("folder", "", "Filter by folder id")
	tag := fs.String("tag", "", "Filter by tag")
	name := fs.String("name", "", "Filter by name substring or glob")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := profile.Filter{FolderID: *folder, Name: *name}
	if *tag != "" {
		f.Tags = []string{*tag}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tOS\tPROXY\tTAGS")
	for _, p := range a.repo.List(f) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, p.Status, p.OS, p.Proxy.DisplayString(), strings.Join(p.Tags, ","))
	}
	return w.Flush()
}

func cmdShow(a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mantle show <id>")
	}
	p, err := a.repo.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", p.ID)
	fmt.Printf("Name:     %s\n", p.Name)
	fmt.Printf("Status:   %s\n", p.Status)
	fmt.Printf("OS:       %s\n", p.OS)
	fmt.Printf("Folder:   %s\n", p.FolderID)
	fmt.Printf("Proxy:    %s\n", p.Proxy.DisplayString())
	fmt.Printf("Tags:     %s\n", strings.Join(p.Tags, ", "))
	fmt.Printf("Created:  %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	if p.LastUsed != nil {
		fmt.Printf("Last use: %s\n", p.LastUsed.Format("2006-01-02 15:04:05"))
	}
	if !p.Fingerprint.Empty() {
		fmt.Printf("FP hash:  %s\n", p.Fingerprint.Hash())
		fmt.Printf("UA:       %s\n", p.Fingerprint.Navigator.UserAgent)
		fmt.Printf("Screen:   %dx%d\n", p.Fingerprint.Screen.Width, p.Fingerprint.Screen.Height)
	}
	if p.Notes != "" {
		fmt.Printf("Notes:    %s\n", p.Notes)
	}
	return nil
}

func cmdDelete(a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mantle delete <id>")
	}
	return a.repo.Delete(args[0])
}

func cmdTrash(a *app) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDELETED")
	for _, e := range a.repo.Trash() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Name, e.DeletedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func cmdRestore(a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mantle restore <id>")
	}
	return a.repo.RestoreFromTrash(args[0])
}

func cmdPurge(a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mantle purge <id>")
	}
	return a.repo.Purge(args[0])
}

// cmdLaunch starts a session for each id and blocks until every session has
// ended or the process is interrupted. On interrupt, live sessions are
// stopped gracefully before exit.
func cmdLaunch(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mantle launch <id> [id...]")
	}

	engine := session.NewPlaywrightEngine(a.log)
	if err := engine.Start(); err != nil {
		return err
	}

	orch := session.New(a.repo, engine, fingerprint.NewPresetGenerator(), a.bus, a.log, session.Options{
		MaxSessions:      a.cfg.MaxSessions,
		BatchConcurrency: a.cfg.BatchConcurrency,
		StopTimeout:      a.cfg.StopTimeout,
		ZombieAfter:      a.cfg.ZombieAfter,
		Headless:         a.cfg.Headless,
	})

	results := orch.BatchStart(ctx, args)
	for id, err := range results {
		if err != nil {
			fmt.Fprintf(os.Stderr, "launch %s: %v\n", id, err)
			continue
		}
		fmt.Printf("launched %s\n", id)
	}

	if orch.ActiveCount() == 0 {
		return orch.Shutdown()
	}

	// Wait for interrupt or for every session to end on its own.
	done := make(chan struct{})
	go func() {
		sub, unsubscribe := a.bus.Subscribe()
		defer unsubscribe()
		for range sub {
			if orch.ActiveCount() == 0 {
				close(done)
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return orch.Shutdown()
}

func cmdTags(a *app) error {
	counts := a.repo.TagCounts()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TAG\tPROFILES")
	for _, tag := range a.repo.AllTags() {
		fmt.Fprintf(w, "%s\t%d\n", tag, counts[tag])
	}
	return w.Flush()
}

func cmdFolders(a *app) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROFILES")
	for _, f := range a.repo.Folders() {
		fmt.Fprintf(w, "%s\t%s\t%d\n", f.ID, f.Name, a.repo.FolderProfileCount(f.ID))
	}
	return w.Flush()
}
