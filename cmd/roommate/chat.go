package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/chat"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/realtime"
	"github.com/roommate-match/go-client/tui"
	"github.com/spf13/cobra"
)

const chatHelp = "/propose /accept /decline /status /clear /quit, anything else is sent as text"

var chatCmd = &cobra.Command{
	Use:   "chat [room]",
	Short: "Open a room and chat live",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		view := &chatView{self: a.sessions.Identity().ID, names: map[model.ID]string{}}

		listener := &chat.ListenerFuncs{
			OnMessageFunc: func(msg model.Message) {
				fmt.Println(view.render(msg))
			},
			OnNegotiationFunc: func(n model.Negotiation) {
				fmt.Println(tui.Muted(tui.RenderNegotiation(n)))
			},
			OnChannelStateFunc: func(state realtime.State) {
				if state.Terminal() {
					tui.ShowWarning("channel %s, messages will no longer arrive", state)
				}
			},
		}
		orch, err := a.orchestrator(listener)
		if err != nil {
			return err
		}
		defer orch.Close()
		view.orch = orch
		if err := selectScope(cmd, orch); err != nil {
			return err
		}

		var roomID model.ID
		if len(args) == 1 {
			roomID = model.ID(args[0])
		} else if roomID, err = pickRoom(ctx, orch); err != nil {
			return err
		}
		if err := orch.OpenRoom(ctx, roomID); err != nil {
			return err
		}
		room, _ := orch.Room()
		view.setNames(room)
		body := chatHelp
		if orch.ReadOnly() {
			body = "read only, /status /clear /quit"
		}
		view.header = tui.RenderBanner(fmt.Sprintf("Room %s: %s and %s", room.ID, participant(room.A), participant(room.B)), body)
		view.redraw()
		return view.loop(ctx, os.Stdin)
	},
}

func pickRoom(ctx context.Context, orch *chat.Orchestrator) (model.ID, error) {
	if !tui.HasTTY {
		return "", errors.New("a room id is required when not running in a terminal")
	}
	rooms, err := orch.Rooms(ctx)
	if err != nil {
		return "", err
	}
	if len(rooms) == 0 {
		return "", errors.Newf("no rooms in scope %s", orch.Scope())
	}
	opts := make([]tui.Option, 0, len(rooms))
	for _, r := range rooms {
		opts = append(opts, tui.Option{ID: r.ID.String(), Text: participant(r.A) + " / " + participant(r.B)})
	}
	return model.ID(tui.Select(current.logger, "Pick a room", "", opts)), nil
}

// chatView is the interactive session of one open room.
type chatView struct {
	orch   *chat.Orchestrator
	self   model.ID
	header string

	// live messages render on the orchestrator's goroutine
	mu    sync.RWMutex
	names map[model.ID]string
}

func (v *chatView) setNames(room model.ChatRoom) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.names[room.A.ID] = room.A.Name
	v.names[room.B.ID] = room.B.Name
}

func (v *chatView) render(msg model.Message) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return tui.RenderMessage(msg, v.self, v.names)
}

// redraw repaints the header, the room's messages and the negotiation.
func (v *chatView) redraw() {
	var lines []string
	for _, msg := range v.orch.Messages() {
		lines = append(lines, v.render(msg))
	}
	if n, ok := v.orch.Negotiation(); ok {
		lines = append(lines, tui.Muted(tui.RenderNegotiation(n)))
	}
	tui.Redraw(v.header, lines)
}

// loop reads commands from in until /quit, end of input or ctx is done.
func (v *chatView) loop(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := v.run(ctx, strings.TrimSpace(line))
			if err != nil {
				tui.ShowError("%s", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (v *chatView) run(ctx context.Context, line string) (bool, error) {
	switch line {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Println(tui.Muted(chatHelp))
		return false, nil
	case "/clear":
		v.redraw()
		return false, nil
	case "/propose":
		return false, v.orch.Propose(ctx)
	case "/accept":
		return false, v.orch.Accept(ctx)
	case "/decline":
		return false, v.orch.Decline(ctx)
	case "/status":
		if err := v.orch.Reconcile(ctx); err != nil {
			return false, err
		}
		n, _ := v.orch.Negotiation()
		fmt.Println(tui.RenderNegotiation(n))
		return false, nil
	}
	if strings.HasPrefix(line, "/") {
		return false, errors.Newf("unknown command %s, try /help", line)
	}
	if v.orch.ReadOnly() {
		tui.ShowWarning("read only, message not sent")
		return false, nil
	}
	sent, err := v.orch.Send(line)
	if err != nil {
		return false, err
	}
	if !sent {
		tui.ShowWarning("message not sent, the channel is not open")
	}
	return false, nil
}

func init() {
	chatCmd.Flags().String("scope", "", "mine, users or staff (users and staff need an administrator)")
	rootCmd.AddCommand(chatCmd)
}
