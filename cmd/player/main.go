package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/lobby-matchmaker/internal/client"
	"github.com/DoyleJ11/lobby-matchmaker/internal/lobby"
)

// endWait bounds how long quit waits for the server to confirm the session ended.
const endWait = 2 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	addr  string
	lobby string
	name  string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Interactive lobby client",
		Long: `Connects to a lobby server, begins a session and reads commands from stdin:

  rename <name>   change username
  host            advertise an open game
  join <owner>    join owner's open game
  games           show the last open-game list
  quit            end the session and exit`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return play(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "ws://localhost:8080/ws", "lobby websocket address")
	cmd.Flags().StringVar(&opts.lobby, "lobby", "", "lobby code (server default when empty)")
	cmd.Flags().StringVar(&opts.name, "name", "", "requested username")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func play(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	target, err := url.Parse(opts.addr)
	if err != nil {
		return fmt.Errorf("addr: %w", err)
	}
	if opts.lobby != "" {
		q := target.Query()
		q.Set("lobby", opts.lobby)
		target.RawQuery = q.Encode()
	}

	ended := make(chan struct{}, 1)
	remote, err := client.Dial(ctx, target.String(), printer(out, ended))
	if err != nil {
		return err
	}
	defer remote.Close()

	readErr := make(chan error, 1)
	go func() { readErr <- remote.Run(ctx) }()

	if err := remote.BeginSession(ctx, opts.name); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line, ok := <-lines:
			if !ok {
				if err := remote.EndSession(ctx); err != nil {
					return err
				}
				return awaitEnd(ctx, ended, readErr)
			}
			done, err := command(ctx, remote, line, out)
			if err != nil {
				return err
			}
			if done {
				return awaitEnd(ctx, ended, readErr)
			}
		}
	}
}

// awaitEnd returns once the SessionEnded frame has been handled, the
// connection dropped or endWait passed.
func awaitEnd(ctx context.Context, ended <-chan struct{}, readErr <-chan error) error {
	timer := time.NewTimer(endWait)
	defer timer.Stop()
	select {
	case <-ended:
		return nil
	case err := <-readErr:
		return err
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return nil
	}
}

func command(ctx context.Context, r *client.Remote, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "rename":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: rename <name>")
			return false, nil
		}
		return false, r.ChangeUsername(ctx, fields[1])
	case "host":
		return false, r.CreateGame(ctx)
	case "join":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: join <owner>")
			return false, nil
		}
		return false, r.JoinGame(ctx, fields[1])
	case "games":
		fmt.Fprintf(out, "open games: %s\n", strings.Join(r.OpenGames(), ", "))
		return false, nil
	case "quit":
		return true, r.EndSession(ctx)
	default:
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
		return false, nil
	}
}

// printer renders server frames; ended receives once SessionEnded is printed.
func printer(out io.Writer, ended chan<- struct{}) client.Callbacks {
	return client.Callbacks{
		OnBeganSession: func(username string) {
			fmt.Fprintf(out, "session began as %s\n", username)
		},
		OnChangeUsername: func(changed bool) {
			if changed {
				fmt.Fprintln(out, "username changed")
				return
			}
			fmt.Fprintln(out, "username taken, kept old name")
		},
		OnUpdatedOpenGameList: func(games []string) {
			fmt.Fprintf(out, "open games: %s\n", strings.Join(games, ", "))
		},
		OnJoinGame: func(succeeded bool) {
			if !succeeded {
				fmt.Fprintln(out, "game no longer available")
			}
		},
		OnMatchedGame: func(m lobby.Matched) {
			if m.Role == lobby.RoleOwner {
				fmt.Fprintf(out, "%s joined your game\n", m.Opponent)
				return
			}
			fmt.Fprintf(out, "joined %s's game\n", m.Opponent)
		},
		OnSessionEnded: func() {
			fmt.Fprintln(out, "session ended")
			select {
			case ended <- struct{}{}:
			default:
			}
		},
		OnError: func(sequence string, err error) {
			fmt.Fprintf(out, "error: %v\n", err)
		},
	}
}
