// Command snippetctl is a terminal front end for a snippetvault server.
//
// It runs the same client core a browser would: a session over the server's
// change feed, optimistic mutations through the coordinator and the filter
// view for listings.
//
// ONE COMMAND, ONE SESSION:
// Every invocation signs in, waits for the feed to replay the user's
// snippets, runs one command and exits. Mutations are optimistic like
// anywhere else; close waits for them to resolve, so the process never
// exits with a request still in flight.
//
// ARGUMENT PARSING:
// docopt builds the parser from the usage text below, so the help screen and
// the accepted flags cannot drift apart. run takes the parsed options plus
// stdin and stdout, which is what the tests call.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/config"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote/httpremote"
	"github.com/sakif/snippetvault/internal/session"
	"github.com/sakif/snippetvault/internal/share"
)

const version = "0.1.0"

const usage = `Snippet vault control.

The server and token default to SNIPPETVAULT_SERVER and SNIPPETVAULT_TOKEN.
Get a token from POST /api/tokens while signed in.

Usage:
    snippetctl list [--language=<language>] [--tag=<tag>] [options]
    snippetctl tags [options]
    snippetctl show <id_or_link> [options]
    snippetctl link <id> [--public_url=<url>] [options]
    snippetctl create --title=<title> --language=<language>
        [--tags=<tags>] [--file=<path>] [--date=<date>] [options]
    snippetctl update <id> [--title=<title>] [--language=<language>]
        [--tags=<tags>] [--file=<path>] [options]
    snippetctl delete <id> [options]
    snippetctl watch [--language=<language>] [--tag=<tag>] [options]
    snippetctl -h | --help
    snippetctl --version

Options:
    -h --help                 Show this screen.
    --version                 Show version.
    --server=<url>            Server URL.
    --token=<token>           Bearer token.
    --language=<language>     javascript, python, css, html or typescript.
    --tag=<tag>               Only snippets with this tag.
    --title=<title>           Snippet title.
    --tags=<tags>             Comma separated tags, e.g. "loop, python".
    --file=<path>             Read the content from a file; "-" is stdin.
    --date=<date>             RFC 3339 date; defaults to now.
    --public_url=<url>        Origin of share links; defaults to the server.
    --verbose                 Log client activity to stderr.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "snippetctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts docopt.Opts, stdin io.Reader, out io.Writer) error {
	c, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer c.close()
	c.stdin = stdin
	c.out = out

	switch {
	case flag(opts, "list"):
		return c.list(opts)
	case flag(opts, "tags"):
		return c.tags()
	case flag(opts, "show"):
		return c.show(ctx, opts)
	case flag(opts, "link"):
		return c.link(ctx, opts)
	case flag(opts, "create"):
		return c.create(ctx, opts)
	case flag(opts, "update"):
		return c.update(ctx, opts)
	case flag(opts, "delete"):
		return c.delete(ctx, opts)
	case flag(opts, "watch"):
		return c.watch(ctx, opts)
	}
	return errors.New("no command")
}

func flag(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

func str(opts docopt.Opts, key string) (string, bool) {
	v, err := opts.String(key)
	return v, err == nil && v != ""
}

// cli is one signed-in session against the server.
type cli struct {
	cfg    config.Client
	client *httpremote.Client
	mgr    *session.Manager
	logger *slog.Logger
	stdin  io.Reader
	out    io.Writer
}

// connect resolves the configuration, checks the token with the server and
// opens a session for the user it belongs to.
func connect(ctx context.Context, opts docopt.Opts) (*cli, error) {
	// === CONFIG: env, then flags ===
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	server, _ := str(opts, "--server")
	token, _ := str(opts, "--token")
	cfg = cfg.Override(server, token)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if flag(opts, "--verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// === SIGN IN ===
	client, err := httpremote.New(cfg.ServerURL, cfg.Token, logger)
	if err != nil {
		return nil, err
	}
	me, err := client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}

	// === OPEN THE SESSION ===
	mgr := session.NewManager(client, logger)
	if err := mgr.Apply(ctx, session.SignedIn(me.ID)); err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	c := &cli{cfg: cfg, client: client, mgr: mgr, logger: logger}
	c.waitLoaded(ctx)
	return c, nil
}

func (c *cli) close() {
	// let in-flight mutations settle before the subscription goes away
	c.mgr.Coordinator().Wait()
	c.mgr.Close()
}

// waitLoaded blocks until the feed has replayed as many snippets as the
// server lists, or a few seconds pass.
func (c *cli) waitLoaded(ctx context.Context) {
	listed, err := c.client.List(ctx)
	if err != nil {
		c.logger.Warn("listing snippets", slog.String("error", err.Error()))
		return
	}

	st := c.mgr.Store()
	changes, stop := st.Watch()
	defer stop()
	timeout := time.After(5 * time.Second)
	for st.Len() < len(listed) {
		select {
		case <-changes:
		case <-timeout:
			c.logger.Warn("feed still loading",
				slog.Int("have", st.Len()),
				slog.Int("want", len(listed)),
			)
			return
		case <-ctx.Done():
			return
		}
	}
}

// applySelection narrows the view to --language and --tag.
func (c *cli) applySelection(opts docopt.Opts) error {
	view := c.mgr.View()
	if raw, ok := str(opts, "--language"); ok {
		lang, err := model.ParseLanguage(raw)
		if err != nil {
			return apperror.ValidationFailed("language", err.Error())
		}
		view.SetLanguage(lang)
	}
	if tag, ok := str(opts, "--tag"); ok {
		view.SetTag(strings.TrimSpace(tag))
	}
	return nil
}

func (c *cli) list(opts docopt.Opts) error {
	if err := c.applySelection(opts); err != nil {
		return err
	}
	c.printTable(c.mgr.View().Visible())
	return nil
}

func (c *cli) printTable(list []model.Snippet) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tLANGUAGE\tTITLE\tTAGS")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Date.Format("2006-01-02"), s.Language, s.Title, model.FormatTagList(s.Tags))
	}
	w.Flush()
}

func (c *cli) tags() error {
	for _, t := range c.mgr.View().Tags() {
		fmt.Fprintln(c.out, t)
	}
	return nil
}

// show accepts an id or a share link. The lookup goes to the server, so a
// link to someone else's snippet works too.
func (c *cli) show(ctx context.Context, opts docopt.Opts) error {
	arg, _ := str(opts, "<id_or_link>")
	id := arg
	if strings.Contains(arg, share.PathPrefix) {
		var err error
		if id, err = share.ParseLink(arg); err != nil {
			return err
		}
	}

	s, err := c.mgr.Coordinator().GetByID(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s\n%s · %s · %s\n\n%s\n",
		s.Title, s.Language, s.Date.Format(time.RFC3339), model.FormatTagList(s.Tags), s.Content)
	return nil
}

// link checks id exists before printing the share link for it.
func (c *cli) link(ctx context.Context, opts docopt.Opts) error {
	id, _ := str(opts, "<id>")
	if _, err := c.mgr.Coordinator().GetByID(ctx, id); err != nil {
		return err
	}
	base := c.cfg.ServerURL
	if public, ok := str(opts, "--public_url"); ok {
		base = public
	}
	link, err := share.Link(base, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, link)
	return nil
}

// readContent reads --file. ok is false when the flag is absent.
func (c *cli) readContent(opts docopt.Opts) (string, bool, error) {
	path, ok := str(opts, "--file")
	if !ok {
		return "", false, nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(c.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", false, fmt.Errorf("reading content: %w", err)
	}
	return string(data), true, nil
}

// create prints the authoritative id once the server has stored the snippet.
// Without --file the content comes from stdin.
func (c *cli) create(ctx context.Context, opts docopt.Opts) error {
	title, _ := str(opts, "--title")
	lang, _ := str(opts, "--language")
	tags, _ := str(opts, "--tags")

	content, ok, err := c.readContent(opts)
	if err != nil {
		return err
	}
	if !ok {
		if content, err = readAll(c.stdin); err != nil {
			return err
		}
	}

	draft := model.Draft{
		Title:    title,
		Content:  content,
		Language: model.Language(lang),
		Tags:     model.ParseTagList(tags),
	}
	if raw, ok := str(opts, "--date"); ok {
		date, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("--date: %w", err)
		}
		draft.Date = date
	}

	done := c.mgr.Coordinator().Create(ctx, draft)
	if err := done.Wait(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, done.ID())
	return nil
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return string(data), nil
}

// update sends only the flags that were given; the coordinator drops any of
// them that would not change the snippet.
func (c *cli) update(ctx context.Context, opts docopt.Opts) error {
	id, _ := str(opts, "<id>")

	var patch model.Patch
	if v, ok := str(opts, "--title"); ok {
		patch.Title = &v
	}
	if v, ok := str(opts, "--language"); ok {
		patch.Language = model.Ptr(model.Language(v))
	}
	if v, err := opts.String("--tags"); err == nil {
		// --tags="" clears the tags
		patch.Tags = model.Ptr(model.ParseTagList(v))
	}
	content, ok, err := c.readContent(opts)
	if err != nil {
		return err
	}
	if ok {
		patch.Content = &content
	}
	if patch.IsEmpty() {
		return errors.New("nothing to update")
	}

	return c.mgr.Coordinator().Update(ctx, id, patch).Wait(ctx)
}

func (c *cli) delete(ctx context.Context, opts docopt.Opts) error {
	id, _ := str(opts, "<id>")
	return c.mgr.Coordinator().Delete(ctx, id).Wait(ctx)
}

// watch reprints the filtered list on every change until interrupted.
func (c *cli) watch(ctx context.Context, opts docopt.Opts) error {
	if err := c.applySelection(opts); err != nil {
		return err
	}
	changes, stop := c.mgr.View().Changes()
	defer stop()

	for {
		fmt.Fprintf(c.out, "--- %s\n", time.Now().Format(time.TimeOnly))
		c.printTable(c.mgr.View().Visible())
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
	}
}
