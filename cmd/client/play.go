package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/storycards/internal/config"
	"github.com/DoyleJ11/storycards/internal/session"
	"github.com/DoyleJ11/storycards/internal/socketio"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type playFlags struct {
	url     string
	room    string
	name    string
	players string
}

func newPlayCmd(cfg *config.Client) *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a room and play.",
		Example: `  storycards play --room 42 --name Ann --players 4
  storycards play --url '/room?roomId=42&name=Ann&numberOfPlayers=4'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := f.params()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return play(ctx, cfg, params, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.url, "url", "", "room link carrying roomId, name and numberOfPlayers")
	fs.StringVar(&f.room, "room", "", "room id")
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.players, "players", "", "number of players the room waits for")
	return cmd
}

// params reads the link first; explicit flags win over it.
func (f playFlags) params() (session.Params, error) {
	var p session.Params
	if f.url != "" {
		var err error
		if p, err = session.ParamsFromURL(f.url); err != nil {
			return p, err
		}
	}
	if f.room != "" {
		p.RoomID = f.room
	}
	if f.name != "" {
		p.Name = f.name
	}
	if f.players != "" {
		p.NumberOfPlayers = f.players
	}
	return p, nil
}

func play(ctx context.Context, cfg *config.Client, params session.Params, in io.Reader, out io.Writer) error {
	log, err := config.NewLogger(cfg.LogLevel, cfg.Debug, cfg.LogFile, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	ids, closeStore, err := openIdentity(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if params.RoomID == "" {
		fmt.Fprintln(out, "* no room given; connected but not joining")
	}

	s := session.New(
		session.SocketIODialer(cfg.ServerURL, socketio.Options{
			Transports: cfg.Transports,
			Logger:     log.Named("socketio"),
		}),
		ids,
		params,
		session.WithLogger(log.Named("session")),
		session.WithStaleAfter(cfg.StaleAfter),
		session.WithCheckEvery(cfg.CheckEvery),
		session.WithStrictGating(cfg.StrictGating),
	)
	defer func() {
		if derr := s.Dispose(); derr != nil {
			log.Warn("dispose", zap.Error(derr))
		}
	}()

	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()
	if err := s.Connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "* connecting to %s\n", cfg.ServerURL)

	lines := make(chan string)
	go readLines(ctx, in, lines)

	r := newRenderer(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			r.render(u)
		case line, ok := <-lines:
			if !ok {
				return nil // input closed
			}
			quit, err := handleLine(ctx, s, line, out)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line. Only a failure of the session itself is
// returned; bad input is reported and play goes on.
func handleLine(ctx context.Context, s *session.Session, line string, out io.Writer) (bool, error) {
	cmd, err := parseLine(line, s.State())
	switch {
	case err != nil:
		fmt.Fprintf(out, "! %v\n", err)
		return false, nil
	case cmd.quit:
		return true, nil
	case cmd.help:
		fmt.Fprintln(out, helpText)
		return false, nil
	case cmd.intent == nil:
		return false, nil
	}

	err = s.Emit(ctx, cmd.intent)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrDisposed), errors.Is(err, context.Canceled):
		return true, nil
	case errors.Is(err, session.ErrEmptyText), errors.Is(err, session.ErrMissingCard):
		fmt.Fprintf(out, "! %v\n", err)
	default:
		// Gating rejections reach the screen through the update stream.
	}
	return false, nil
}

func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}
