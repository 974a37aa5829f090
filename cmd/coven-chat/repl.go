// ABOUTME: Interactive chat loop: reads lines, runs slash commands and dispatches messages
// ABOUTME: Ctrl+C while a response streams cancels it; Ctrl+C at the prompt clears the line

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/dispatch"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/target"
)

// closeTimeout bounds remote cancellation on the way out.
const closeTimeout = 5 * time.Second

// command is a parsed slash command.
type command struct {
	name string
	args []string
}

// parseCommand recognises "/name args...". Team mentions such as
// "/[Research] hi" are messages, not commands.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "/[") {
		return command{}, false
	}
	fields := strings.Fields(line)
	name := strings.TrimPrefix(fields[0], "/")
	if name == "" {
		return command{}, false
	}
	return command{name: strings.ToLower(name), args: fields[1:]}, true
}

// idempotencyKey identifies one submission of text in a session, so the same
// line submitted twice in quick succession is sent once.
func idempotencyKey(sessionID, text string, pending []chat.Attachment) string {
	h := sha256.New()
	h.Write([]byte(text))
	for _, a := range pending {
		h.Write([]byte{0})
		h.Write([]byte(a.ID))
	}
	return sessionID + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

type repl struct {
	app    *app
	render *renderer
	out    io.Writer
}

func runChat(ctx context.Context, opts *options) error {
	a, err := newApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
	r := &repl{app: a, render: newRenderer(os.Stdout), out: os.Stdout}
	r.greet()

	followCtx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()
	go r.render.follow(followCtx, a.store)

	return r.loop(ctx)
}

func (r *repl) greet() {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	dir := r.app.dir.Get()

	green.Print("✓ ")
	fmt.Fprintf(r.out, "Server:    %s\n", r.app.cfg.Server.BaseURL)
	green.Print("✓ ")
	fmt.Fprintf(r.out, "Directory: %d agents, %d teams, %d workflows\n", len(dir.Agents), len(dir.Teams), len(dir.Workflows))
	if r.app.archive != nil {
		green.Print("✓ ")
		fmt.Fprintf(r.out, "Archive:   %s\n", r.app.cfg.Archive.Path)
	}
	if def := r.app.ctrl.Default(); def != nil {
		green.Print("✓ ")
		fmt.Fprintf(r.out, "Default:   %s %s\n", def.Kind, def.Name)
	} else {
		yellow.Print("! ")
		fmt.Fprintln(r.out, "Default:   none, mention a target with @[agent] /[team] ![workflow]")
	}
	fmt.Fprintln(r.out, "Type a message and press Enter. /help for commands. Ctrl+D to quit.")
	fmt.Fprintln(r.out)
}

func (r *repl) prompt() string {
	if def := r.app.ctrl.Default(); def != nil {
		return color.New(color.FgHiBlue).Sprintf("[%s]> ", target.Mention{Kind: def.Kind, Name: def.Name}.Markup())
	}
	return color.New(color.FgHiBlue).Sprint("> ")
}

func (r *repl) loop(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.prompt(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistoryFile:       r.app.historyPath(),
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("starting line editor: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	for {
		rl.SetPrompt(r.prompt())
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case errors.Is(err, io.EOF):
			return r.finish(ctx)
		case err != nil:
			return fmt.Errorf("reading input: %w", err)
		}
		if ctx.Err() != nil {
			return r.finish(ctx)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if cmd, ok := parseCommand(line); ok {
			quit, err := r.run(ctx, cmd)
			if err != nil {
				noticeColor.Fprintf(r.out, "[error] %v\n", err)
			}
			if quit {
				return r.finish(ctx)
			}
			continue
		}
		r.send(ctx, line)
	}
}

// finish archives the session on the way out.
func (r *repl) finish(ctx context.Context) error {
	saved, err := r.app.save(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if saved {
		dimColor.Fprintf(r.out, "session %s archived\n", r.app.store.SessionID())
	}
	fmt.Fprintln(r.out, "Goodbye!")
	return nil
}

func (r *repl) send(ctx context.Context, text string) {
	key := idempotencyKey(r.app.store.SessionID(), text, r.app.store.PendingAttachments())
	res, err := r.app.ctrl.Send(ctx, dispatch.SendRequest{Text: text, IdempotencyKey: key})
	switch {
	case errors.Is(err, dispatch.ErrDuplicateSend):
		dimColor.Fprintln(r.out, "(duplicate message ignored)")
		return
	case err != nil:
		noticeColor.Fprintf(r.out, "[error] %v\n", err)
		return
	}
	r.wait(ctx, res.UserMessage.ID)
}

// wait blocks until the turn's streams finish. An interrupt cancels them.
func (r *repl) wait(ctx context.Context, userMessageID string) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	done := make(chan struct{})
	go func() {
		r.app.ctrl.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-sig:
		n := r.app.ctrl.Cancel(context.WithoutCancel(ctx))
		<-done
		r.render.settle(r.app.store.Turn(userMessageID))
		dimColor.Fprintf(r.out, "(cancelled %d streams)\n", n)
		return
	case <-ctx.Done():
		<-done
	}
	r.render.settle(r.app.store.Turn(userMessageID))
}

// lastUserMessage returns the most recent user message in the transcript.
func (r *repl) lastUserMessage() (chat.Message, bool) {
	msgs := r.app.store.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleUser {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}

// run executes cmd and reports whether the loop should end.
func (r *repl) run(ctx context.Context, cmd command) (bool, error) {
	switch cmd.name {
	case "quit", "exit", "q":
		return true, nil
	case "help":
		r.help()
	case "agents", "teams", "workflows":
		printDirectory(r.out, r.app.dir.Get(), cmd.name)
	case "refresh":
		if err := r.app.dir.Refresh(ctx, r.app.client); err != nil {
			return false, fmt.Errorf("refreshing directory: %w", err)
		}
		dir := r.app.dir.Get()
		fmt.Fprintf(r.out, "%d agents, %d teams, %d workflows\n", len(dir.Agents), len(dir.Teams), len(dir.Workflows))
	case "use":
		return false, r.use(cmd.args)
	case "regen":
		return false, r.regenerate(ctx)
	case "version":
		return false, r.switchVersion(cmd.args)
	case "attach":
		return false, r.attach(cmd.args)
	case "detach":
		if len(cmd.args) != 1 {
			return false, errors.New("usage: /detach <attachment-id>")
		}
		if !r.app.store.RemoveAttachment(cmd.args[0]) {
			return false, fmt.Errorf("no attachment %s", cmd.args[0])
		}
		fmt.Fprintln(r.out, "attachment removed")
	case "attachments":
		for _, a := range r.app.store.PendingAttachments() {
			fmt.Fprintf(r.out, "  %s  %s (%s)\n", a.ID, a.Filename, a.MimeType)
		}
	case "history":
		for _, m := range r.app.store.Messages() {
			r.render.show(m)
		}
	case "new":
		if _, err := r.app.save(ctx); err != nil {
			return false, err
		}
		id := r.app.ctrl.Reset(ctx)
		fmt.Fprintf(r.out, "new session %s\n", id)
	case "save":
		saved, err := r.app.save(ctx)
		if err != nil {
			return false, err
		}
		if !saved {
			return false, errors.New("nothing to save, or the archive is disabled")
		}
		fmt.Fprintf(r.out, "session %s archived\n", r.app.store.SessionID())
	case "sessions":
		if r.app.archive == nil {
			return false, errors.New("the archive is disabled")
		}
		sums, err := r.app.archive.ListSessions(ctx, store.DefaultListLimit)
		if err != nil {
			return false, err
		}
		printSummaries(r.out, sums)
	case "load":
		return false, r.load(ctx, cmd.args)
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", cmd.name)
	}
	return false, nil
}

func (r *repl) help() {
	fmt.Fprintln(r.out, `Commands:
  /agents /teams /workflows   List the directory
  /refresh                    Reload the directory
  /use <kind> <name>          Set the default target (kind: agent, team, workflow)
  /use                        Restore the configured default
  /regen                      Regenerate the answers to your last message
  /version <n>                Show version n of the last answers
  /attach <path>              Attach a file to the next message
  /detach <id>                Remove an attachment
  /attachments                List pending attachments
  /history                    Show the transcript
  /new                        Start a new session
  /save                       Archive the session
  /sessions                   List archived sessions
  /load <id>                  Load an archived session
  /quit                       Exit

Mentions: @[agent] /[team] ![workflow]. Ctrl+C stops a streaming answer.`)
}

func (r *repl) use(args []string) error {
	if len(args) == 0 {
		r.app.ctrl.Select(nil)
		fmt.Fprintln(r.out, "using the configured default")
		return nil
	}
	if len(args) < 2 {
		return errors.New("usage: /use <agent|team|workflow> <name>")
	}
	kind := chat.TargetKind(strings.ToLower(args[0]))
	name := strings.Join(args[1:], " ")
	t, ok := r.app.dir.Get().Lookup(kind, name)
	if !ok {
		return fmt.Errorf("%s %q not found", kind, name)
	}
	r.app.ctrl.Select(&t)
	fmt.Fprintf(r.out, "now using %s %s\n", t.Kind, t.Name)
	return nil
}

func (r *repl) regenerate(ctx context.Context) error {
	user, ok := r.lastUserMessage()
	if !ok {
		return errors.New("nothing to regenerate")
	}
	res, err := r.app.ctrl.Regenerate(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(res.Streams) == 0 {
		return errors.New("none of the original targets are available")
	}
	r.wait(ctx, user.ID)
	return nil
}

// switchVersion shows version n (1-based) of every answer to the last
// message that has that many versions.
func (r *repl) switchVersion(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /version <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid version %q", args[0])
	}
	user, ok := r.lastUserMessage()
	if !ok {
		return errors.New("no answers yet")
	}
	switched := 0
	for _, m := range r.app.store.Turn(user.ID) {
		if len(m.Versions) < 2 || !r.app.store.SwitchVersion(m.ID, n-1) {
			continue
		}
		if updated, ok := r.app.store.Message(m.ID); ok {
			r.render.show(updated)
		}
		switched++
	}
	if switched == 0 {
		return fmt.Errorf("no answer has a version %d", n)
	}
	return nil
}

func (r *repl) attach(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /attach <path>")
	}
	path := strings.Join(args, " ")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}
	a := r.app.store.AddAttachment(filepath.Base(path), mimeType(path, data), data)
	fmt.Fprintf(r.out, "attached %s (%s) as %s\n", a.Filename, a.MimeType, a.ID)
	return nil
}

func (r *repl) load(ctx context.Context, args []string) error {
	if r.app.archive == nil {
		return errors.New("the archive is disabled")
	}
	if len(args) != 1 {
		return errors.New("usage: /load <session-id>")
	}
	if len(r.app.ctrl.Active()) > 0 {
		return dispatch.ErrBusy
	}
	sess, err := r.app.archive.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	if _, err := r.app.save(ctx); err != nil {
		return err
	}
	r.app.ctrl.Load(ctx, sess)
	for _, m := range r.app.store.Messages() {
		r.render.show(m)
	}
	return nil
}

// mimeType prefers the extension and falls back to sniffing the content.
func mimeType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
