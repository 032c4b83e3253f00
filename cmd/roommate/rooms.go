package main

import (
	"fmt"

	"github.com/roommate-match/go-client/chat"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/tui"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the chat rooms of a scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := current.orchestrator(nil)
		if err != nil {
			return err
		}
		defer orch.Close()
		if err := selectScope(cmd, orch); err != nil {
			return err
		}
		rooms, err := orch.Rooms(cmd.Context())
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			tui.ShowWarning("No rooms in scope %s", orch.Scope())
			return nil
		}
		rows := make([][]string, 0, len(rooms))
		for _, r := range rooms {
			rows = append(rows, []string{r.ID.String(), participant(r.A), participant(r.B)})
		}
		tui.Table([]string{"Room", "User A", "User B"}, rows)
		fmt.Println(tui.Muted("open a room with ") + tui.Command("chat", "<room>"))
		return nil
	},
}

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage chat rooms",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create <opponent>",
	Short: "Create or fetch the room with another user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := current.orchestrator(nil)
		if err != nil {
			return err
		}
		defer orch.Close()
		room, err := orch.CreateRoom(cmd.Context(), model.ID(args[0]))
		if err != nil {
			return err
		}
		tui.ShowSuccess("Room %s with %s", room.ID, participant(room.Counterpart(current.sessions.Identity().ID)))
		return nil
	},
}

// selectScope applies --scope when given.
func selectScope(cmd *cobra.Command, orch *chat.Orchestrator) error {
	val, _ := cmd.Flags().GetString("scope")
	if val == "" {
		return nil
	}
	scope, err := chat.ParseScope(val)
	if err != nil {
		return err
	}
	return orch.SelectScope(scope)
}

func participant(p model.Participant) string {
	name := p.Name
	if name == "" {
		name = "user " + p.ID.String()
	} else {
		name = fmt.Sprintf("%s (%s)", name, p.ID)
	}
	if p.Role.Privileged() {
		name += " " + tui.Warning("admin")
	}
	return name
}

func init() {
	roomsCmd.Flags().String("scope", "", "mine, users or staff (users and staff need an administrator)")
	roomCmd.AddCommand(roomCreateCmd)
	rootCmd.AddCommand(roomsCmd, roomCmd)
}
