// joinclient is a terminal participant client. It walks one participant
// through the join flow of a session and stands in for the chat view once
// the session goes live.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/chatsim/joinsync/internal/application/join"
	"github.com/chatsim/joinsync/internal/config"
	domainJoin "github.com/chatsim/joinsync/internal/domain/join"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/infrastructure/identitystore"
	"github.com/chatsim/joinsync/internal/infrastructure/remote"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	var sessionFlag, tokenFlag, userFlag string
	flagSet := pflag.NewFlagSet("joinclient", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "session server base URL")
	flagSet.StringVar(&cfg.CachePath, "cache", cfg.CachePath, "identity cache file")
	flagSet.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "countdown refresh interval")
	flagSet.StringVar(&cfg.Transport, "transport", cfg.Transport, "live stream transport (ws or sse)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flagSet.StringVarP(&sessionFlag, "session", "s", "", "session id (required)")
	flagSet.StringVarP(&tokenFlag, "token", "t", "", "invitation token")
	flagSet.StringVar(&userFlag, "user", "", "user id (default: the id stored in the cache)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sessionID, err := uuid.Parse(sessionFlag)
	if err != nil {
		return fmt.Errorf("--session: %w", err)
	}
	var token *string
	if flagSet.Changed("token") {
		token = &tokenFlag
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(config.ParseLevel(cfg.LogLevel)).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := identitystore.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	userID := userFlag
	if userID == "" {
		if userID, err = cache.UserID(ctx); err != nil {
			return err
		}
	}

	client, err := remote.New(cfg.ServerURL, remote.Options{
		Token:     token,
		Transport: remote.Transport(cfg.Transport),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	engine, err := join.Open(ctx, join.Config{
		SessionID:    sessionID,
		UserID:       userID,
		Token:        token,
		TickInterval: cfg.TickInterval,
	}, client, client, cache, logger)
	if err != nil {
		var denied *join.AccessError
		if errors.As(err, &denied) {
			return fmt.Errorf("cannot join this session: %s", denied.Reason)
		}
		return err
	}
	defer engine.Close()

	fmt.Printf("joining session %s as %s\n", sessionID, userID)
	p := &prompter{engine: engine, out: os.Stdout}
	lines := readLines(os.Stdin)
	notices := engine.Notices()

	for {
		select {
		case <-ctx.Done():
			return nil

		case st, ok := <-engine.Updates():
			if !ok {
				return exitError(engine.Err())
			}
			p.show(st)

		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			p.notice(n)

		case h, ok := <-engine.Handoffs():
			if !ok {
				return exitError(engine.Err())
			}
			rejoin, err := goLive(ctx, client, engine, p, h, lines)
			if err != nil || !rejoin {
				return err
			}
			p.restart(engine.Current())

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			p.input(ctx, line)
		}
	}
}

// presence records the participant entering and leaving the chat.
type presence interface {
	MarkJoined(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error)
	Leave(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error)
}

// liveEngine is the part of the engine watched while in the chat.
type liveEngine interface {
	Updates() <-chan join.State
	Notices() <-chan join.Notice
	Err() error
}

// goLive marks the participant as joined and stays in the session until
// interrupted, stdin closes or the engine stops. It reports rejoin when the
// session was reset and the join flow starts over.
func goLive(ctx context.Context, client presence, engine liveEngine, p *prompter, h join.Handoff, lines <-chan string) (bool, error) {
	if _, err := client.MarkJoined(ctx, h.SessionID, h.UserID); err != nil {
		return false, fmt.Errorf("mark joined: %w", err)
	}
	fmt.Fprintf(p.out, "you are live as %q. Ctrl-C leaves the session.\n", h.RoleID)

	rejoin, err := stayLive(ctx, engine, p, h, lines)
	if rejoin || err != nil {
		return rejoin, err
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Leave(leaveCtx, h.SessionID, h.UserID); err != nil {
		return false, fmt.Errorf("leave: %w", err)
	}
	fmt.Fprintln(p.out, "left the session")
	return false, nil
}

func stayLive(ctx context.Context, engine liveEngine, p *prompter, h join.Handoff, lines <-chan string) (bool, error) {
	notices := engine.Notices()
	for {
		select {
		case <-ctx.Done():
			return false, nil

		case _, ok := <-lines:
			if !ok {
				return false, nil
			}

		case st, ok := <-engine.Updates():
			if !ok {
				return false, exitError(engine.Err())
			}
			if st.Epoch != h.Epoch {
				fmt.Fprintln(p.out, "the session was reset, rejoining")
				return true, nil
			}
			p.showLive(st)

		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			p.notice(n)
			if n.Kind == join.NoticeSessionReset {
				return true, nil
			}
		}
	}
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	if remote.IsDenied(err) {
		return fmt.Errorf("access to the session was revoked: %w", err)
	}
	var denied *join.AccessError
	if errors.As(err, &denied) {
		return fmt.Errorf("access to the session was revoked: %s", denied.Reason)
	}
	return err
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- strings.TrimSpace(sc.Text())
		}
	}()
	return out
}

// prompter renders engine state and turns input lines into commands.
type prompter struct {
	engine    *join.Engine
	out       io.Writer
	lastStage domainJoin.Stage
	lastBlock domainJoin.Block
	lastSecs  int64
}

func (p *prompter) show(st join.State) {
	if st.Block != p.lastBlock {
		p.lastBlock = st.Block
		if st.Block != domainJoin.BlockNone {
			fmt.Fprintf(p.out, "session is %s, waiting...\n", st.Block)
		}
	}
	if st.Stage != p.lastStage {
		p.lastStage = st.Stage
		switch st.Stage {
		case domainJoin.StageNameInput:
			fmt.Fprintln(p.out, "enter your names as: real name / display name")
		case domainJoin.StageRoleSelection:
			p.listRoles(st)
		case domainJoin.StageWaitingRoom:
			fmt.Fprintf(p.out, "waiting for the session to start (role %q)\n", st.SelectedRoleID)
		}
	}
	if st.Countdown.Active {
		secs := int64(st.Countdown.Remaining.Round(time.Second) / time.Second)
		if secs != p.lastSecs {
			p.lastSecs = secs
			fmt.Fprintf(p.out, "starting in %ds\n", secs)
		}
	}
}

// showLive reports pauses and resumes while the participant is in the chat.
func (p *prompter) showLive(st join.State) {
	if st.Block == p.lastBlock {
		return
	}
	p.lastBlock = st.Block
	if st.Block == domainJoin.BlockNone {
		fmt.Fprintln(p.out, "session resumed")
		return
	}
	fmt.Fprintf(p.out, "session is %s, waiting...\n", st.Block)
}

// restart forgets what was shown and renders st from scratch.
func (p *prompter) restart(st join.State) {
	p.lastStage, p.lastBlock, p.lastSecs = "", domainJoin.BlockNone, 0
	p.show(st)
}

func (p *prompter) listRoles(st join.State) {
	if len(st.Roles) == 0 {
		fmt.Fprintln(p.out, "loading roles...")
		return
	}
	fmt.Fprintln(p.out, "pick a role by id:")
	for _, r := range st.Roles {
		mark := ""
		switch {
		case r.Mine:
			mark = " (yours)"
		case r.Full:
			mark = " (full)"
		}
		if r.Capacity > 0 {
			fmt.Fprintf(p.out, "  %-16s %s %d/%d%s\n", r.RoleID, r.Name, r.Taken, r.Capacity, mark)
		} else {
			fmt.Fprintf(p.out, "  %-16s %s%s\n", r.RoleID, r.Name, mark)
		}
	}
}

func (p *prompter) notice(n join.Notice) {
	switch {
	case n.Err != nil:
		fmt.Fprintf(p.out, "! %s: %v\n", n.Kind, n.Err)
	case n.RoleID != "":
		fmt.Fprintf(p.out, "! %s: %s\n", n.Kind, n.RoleID)
	case n.Reason != "":
		fmt.Fprintf(p.out, "! %s: %s\n", n.Kind, n.Reason)
	default:
		fmt.Fprintf(p.out, "! %s\n", n.Kind)
	}
}

func (p *prompter) input(ctx context.Context, line string) {
	if line == "" {
		return
	}
	var err error
	switch p.engine.Current().Stage {
	case domainJoin.StageNameInput:
		realName, displayName, found := strings.Cut(line, "/")
		if !found {
			fmt.Fprintln(p.out, "use: real name / display name")
			return
		}
		err = p.engine.SubmitNames(ctx, participant.Names{
			RealName:    strings.TrimSpace(realName),
			DisplayName: strings.TrimSpace(displayName),
		})
	case domainJoin.StageRoleSelection, domainJoin.StageWaitingRoom:
		err = p.engine.SelectRole(ctx, line)
	default:
		return
	}
	if err != nil {
		fmt.Fprintf(p.out, "! %v\n", err)
	}
}
