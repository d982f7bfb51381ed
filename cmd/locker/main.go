// Package main provides a command-line client for a webls server. The
// current directory and clipboard are kept between invocations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/sessionstore"
	"github.com/mahmoud-eltahawy/webls/pkg/client"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
	"github.com/mahmoud-eltahawy/webls/pkg/session"
)

type app struct {
	client  *client.Client
	session *session.Session
	store   *sessionstore.Store
	server  string

	watching atomic.Bool
}

func main() {
	serverURL := flag.String("server", envOr("WEBLS_SERVER", "http://localhost:3000"), "Server URL")
	password := flag.String("password", os.Getenv("WEBLS_PASSWORD"), "Shared secret (sent with every mutation)")
	stateDir := flag.String("state", defaultStateDir(), "State directory (empty keeps state in memory)")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	logLevel := flag.String("log-level", "warn", "Log level")

	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: *logLevel, Format: "console", OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	store, err := sessionstore.Open(*stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening state: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	c := client.New(client.Config{BaseURL: *serverURL, Timeout: *timeout, Password: *password})
	if tok, ok, err := store.LoadToken(c.BaseURL()); err == nil && ok {
		c.SetToken(tok.Token)
	}

	a := &app{client: c, store: store, server: c.BaseURL()}
	a.session = session.New(c, session.Options{
		Events:    c.Events(),
		OnListing: a.onListing,
	})
	defer a.session.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.LoadState(a.server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading state: %v\n", err)
	}
	a.session.Restore(st)
	a.session.Wait()

	if err := a.run(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.save()
		os.Exit(1)
	}
	a.save()
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.cmdLogin(ctx, args)
	case "logout":
		a.client.SetToken("")
		return a.store.Forget(a.server)
	case "list", "ls":
		return a.cmdList()
	case "cd":
		return a.cmdCd(args)
	case "back":
		a.session.Back()
		return a.cmdList()
	case "home":
		a.session.Home()
		return a.cmdList()
	case "select", "toggle":
		return a.cmdToggle(args)
	case "clear":
		a.session.Clear()
		return nil
	case "copy":
		return a.session.Copy()
	case "cut":
		return a.session.Cut()
	case "paste":
		return a.mutate(a.session.Paste(ctx))
	case "delete", "rm":
		return a.mutate(a.session.Delete(ctx))
	case "mkdir":
		if len(args) != 1 {
			return errors.New("usage: mkdir <name>")
		}
		return a.mutate(a.session.MakeDirectory(ctx, args[0]))
	case "upload", "put":
		return a.cmdUpload(ctx, args)
	case "download", "get":
		return a.cmdDownload(ctx, args)
	case "watch":
		return a.cmdWatch(ctx)
	case "qr":
		return a.cmdQR(ctx, args)
	case "status":
		return a.cmdStatus()
	case "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Println(`webls locker client

Usage: locker [flags] <command> [args]

Flags:
  -server <url>      Server URL (default: $WEBLS_SERVER or http://localhost:3000)
  -password <secret> Shared secret (default: $WEBLS_PASSWORD)
  -state <dir>       State directory
  -timeout <dur>     Request timeout (default: 30s)
  -log-level <lvl>   Log level (default: warn)

Commands:
  login [password]   Exchange the shared secret for a token
  logout             Forget the stored token
  list, ls           List the current directory
  cd <dir>           Enter a directory (.. goes up, / goes home)
  back | home        Go to the parent directory | the root
  select <name>...   Toggle entries in the selection
  clear              Drop the selection
  copy | cut         Hold the selection for a copy | move
  paste              Copy or move the held entries here
  delete, rm         Delete the selected entries
  mkdir <name>       Create a directory here (selection must be empty)
  upload <file>...   Upload local files here
  download [name]    Save a file (or every selected file) locally
  watch              Print the listing whenever it changes on the server
  qr [out.png]       Show the server address as a QR code
  status             Show directory, selection and login state

Examples:
  locker -server http://192.168.1.5:3000 login
  locker cd movies
  locker select a.mkv b.mkv
  locker cut
  locker cd /
  locker paste`)
}

func (a *app) save() {
	if err := a.store.SaveState(a.server, a.session.Save()); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving state: %v\n", err)
	}
}

// mutate prints the listing after a mutation, whatever its outcome.
func (a *app) mutate(err error) error {
	a.session.Wait()
	if be, ok := client.AsBatch(err); ok && len(be.Completed) > 0 {
		fmt.Printf("Completed before failure: %s\n", strings.Join(be.Completed, ", "))
	}
	if errors.Is(err, session.ErrLoginRequired) {
		return fmt.Errorf("%w (run 'locker login' or pass -password)", err)
	}
	if lerr := a.cmdList(); lerr != nil && err == nil {
		return lerr
	}
	return err
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	password := ""
	if len(args) > 0 {
		password = args[0]
	} else {
		fmt.Print("Password: ")
		fmt.Scanln(&password)
	}

	resp, err := a.client.Login(ctx, password)
	if err != nil {
		return err
	}
	if err := a.store.SaveToken(a.server, sessionstore.Token{Token: resp.Token, ExpiresAt: resp.ExpiresAt}); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Printf("Logged in until %s\n", resp.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func (a *app) cmdList() error {
	dir, units, err := a.session.Listing()
	if err != nil {
		return err
	}
	return a.printUnits(dir, units)
}

func (a *app) onListing(dir string, units []models.Unit) {
	if !a.watching.Load() {
		return
	}
	fmt.Printf("\n-- %s --\n", time.Now().Format("15:04:05"))
	a.printUnits(dir, units)
}

func (a *app) printUnits(dir string, units []models.Unit) error {
	clip := a.session.Selection()
	fmt.Printf("/%s\n", dir)
	if len(units) == 0 {
		fmt.Println("(empty)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, u := range units {
		mark := " "
		if clip.Contains(u.Path) {
			mark = "*"
		}
		name := u.Name()
		size := ""
		if u.IsDir() {
			name += "/"
		} else {
			size = formatSize(u.Size)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, u.Kind, name, size)
	}
	return w.Flush()
}

func (a *app) cmdCd(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cd <dir>")
	}
	switch target := args[0]; {
	case target == "/":
		a.session.Home()
	case target == "..":
		a.session.Back()
	case strings.HasPrefix(target, "/"):
		a.session.Navigate(target)
	default:
		if err := a.session.Enter(target); err != nil {
			return err
		}
	}
	a.session.Wait()
	return a.cmdList()
}

func (a *app) cmdToggle(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: select <name>...")
	}
	for _, name := range args {
		if err := a.session.Toggle(name); err != nil {
			return err
		}
	}
	return a.cmdStatus()
}

func (a *app) cmdUpload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: upload <file>...")
	}
	files := make([]client.UploadFile, 0, len(args))
	for _, p := range args {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		files = append(files, client.UploadFile{Path: filepath.Base(p), Content: f})
	}

	resp, err := a.session.Upload(ctx, files)
	if resp != nil {
		printUpload(resp)
	}
	return a.mutate(err)
}

func printUpload(resp *protocol.UploadResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, f := range resp.Fields {
		status := "ok"
		if f.Error != "" {
			status = f.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Path, formatSize(f.Bytes), status)
	}
	w.Flush()
}

// cmdDownload saves the named file, or every selected file when no name
// is given. Selected directories are skipped.
func (a *app) cmdDownload(ctx context.Context, args []string) error {
	var paths []string
	switch len(args) {
	case 0:
		for _, u := range a.session.Selection().Selected() {
			if !u.IsDir() {
				paths = append(paths, u.Path)
			}
		}
		if len(paths) == 0 {
			return errors.New("nothing selected to download")
		}
	case 1:
		p := args[0]
		if !strings.HasPrefix(p, "/") {
			p = path.Join(a.session.Directory(), p)
		}
		paths = append(paths, strings.TrimPrefix(p, "/"))
	default:
		return errors.New("usage: download [name]")
	}

	for _, p := range paths {
		if err := a.download(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) download(ctx context.Context, p string) error {
	body, size, err := a.client.Download(ctx, p)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.Create(path.Base(p))
	if err != nil {
		return err
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", p, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("download %s: got %d of %d bytes", p, n, size)
	}
	fmt.Printf("Saved %s (%s)\n", out.Name(), formatSize(n))
	return nil
}

func (a *app) cmdWatch(ctx context.Context) error {
	if err := a.cmdList(); err != nil {
		return err
	}
	a.watching.Store(true)
	defer a.watching.Store(false)

	err := a.session.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) cmdQR(ctx context.Context, args []string) error {
	if len(args) == 1 {
		png, err := a.client.QR(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], png, 0644); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", args[0])
		return nil
	}
	q, err := qrcode.New(a.server, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Println(q.ToString(false))
	fmt.Println(a.server)
	return nil
}

func (a *app) cmdStatus() error {
	clip := a.session.Selection()
	fmt.Printf("Server:     %s\n", a.server)
	fmt.Printf("Directory:  /%s\n", a.session.Directory())
	fmt.Printf("Logged in:  %v\n", a.client.HasCredential())
	fmt.Printf("Selection:  %s (%d)\n", clip.State(), clip.Len())
	for _, u := range clip.Selected() {
		fmt.Printf("  %s\n", u.Path)
	}
	return nil
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "webls", "state")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
