// Package cli implements the interactive command-line interface for the
// lobby monitor: live lobby tables, chat tailing, and session commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/session"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/world"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	bus   *events.EventBus
	model *world.Model
	sess  *session.Session
}

// NewCLI creates a new CLI handler.
func NewCLI(bus *events.EventBus, model *world.Model, sess *session.Session) *CLI {
	return &CLI{bus: bus, model: model, sess: sess}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nLobby monitor CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("bzmonitor> ")
		if !reader.Scan() {
			if err := reader.Err(); err != nil && err != io.EOF {
				continue
			}
			return
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "lobbies", "ls":
		c.printLobbies()
	case "players", "p":
		return c.printPlayers(args)
	case "chat":
		return c.printChat(args)
	case "join":
		return c.cmdJoin(args)
	case "leave":
		return c.sess.LeaveLobby()
	case "say":
		return c.cmdSay(args)
	case "create":
		return c.cmdCreate(args)
	case "refresh", "r":
		return c.sess.RefreshLobbies()
	case "quit", "exit", "q":
		fmt.Println("Shutting down lobby monitor...")
		c.bus.Emit(events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println(`
Available commands:
  status, s              Show connection state and counts
  lobbies, ls            List all known lobbies
  players, p <lobby>     List a lobby's members
  chat <lobby> [n]       Show the last n chat lines (default 20)
  join <lobby> [pass]    Join a lobby
  leave                  Leave the joined lobby
  say <text>             Send chat to the joined lobby
  create <name>          Create a chat lobby
  refresh, r             Request a fresh lobby list
  quit, exit, q          Shut down the monitor`)
}

// printStatus shows the session and world summary.
func (c *CLI) printStatus() {
	lobbies, players := c.model.Counts()

	fmt.Printf("State:        %s\n", c.sess.State())
	fmt.Printf("Server:       %s (%s)\n", c.sess.Address(), c.sess.Variant())
	if id := c.sess.SelfID(); id != "" {
		fmt.Printf("Account:      %s\n", id)
	}
	if joined := c.sess.JoinedLobby(); joined != "" {
		fmt.Printf("In lobby:     %s\n", joined)
	}
	fmt.Printf("Lobbies:      %d\n", lobbies)
	fmt.Printf("Players:      %d\n", players)
	if err := c.sess.LastError(); err != nil {
		fmt.Printf("Last error:   %v\n", err)
	}
}

// printLobbies renders the lobby list as a table.
func (c *CLI) printLobbies() {
	lobbies := c.model.Lobbies()
	if len(lobbies) == 0 {
		fmt.Println("No lobbies.")
		return
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Name", "Map", "Players", "State", "Mod", "Version"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, l := range lobbies {
		state := "open"
		switch {
		case l.Launched:
			state = "in game"
		case l.Locked:
			state = "locked"
		case l.Private:
			state = "private"
		}

		capacity := "-"
		if l.Capacity > 0 {
			capacity = fmt.Sprintf("%d/%d", l.PlayerCount, l.Capacity)
		} else if l.PlayerCount > 0 {
			capacity = strconv.Itoa(l.PlayerCount)
		}

		tw.Append([]string{l.ID, l.Name, l.MapID, capacity, state, l.ModID, l.ClientVersion})
	}
	tw.Render()
}

// printPlayers renders one lobby's member table.
func (c *CLI) printPlayers(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: players <lobby-id>")
	}
	id := args[0]
	if !c.model.HasLobby(id) {
		return fmt.Errorf("unknown lobby %q", id)
	}

	players := c.model.Players(id)
	if len(players) == 0 {
		fmt.Println("No players.")
		return nil
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Name", "Platform"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, p := range players {
		tw.Append([]string{p.ID, p.Name, p.AuthKind.String()})
	}
	tw.Render()
	return nil
}

// printChat shows the tail of a lobby's chat buffer.
func (c *CLI) printChat(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chat <lobby-id> [count]")
	}
	id := args[0]
	if !c.model.HasLobby(id) {
		return fmt.Errorf("unknown lobby %q", id)
	}

	count := 20
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count %q", args[1])
		}
		count = n
	}

	history := c.model.ChatHistory(id)
	if len(history) > count {
		history = history[len(history)-count:]
	}
	if len(history) == 0 {
		fmt.Println("No chat.")
		return nil
	}

	for _, msg := range history {
		name := msg.SenderName
		if name == "" {
			name = msg.SenderID
		}
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format(time.Kitchen), name, msg.Text)
	}
	return nil
}

func (c *CLI) cmdJoin(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: join <lobby-id> [password]")
	}
	password := ""
	if len(args) > 1 {
		password = args[1]
	}
	if err := c.sess.JoinLobby(args[0], password); err != nil {
		return err
	}
	fmt.Println("Join requested.")
	return nil
}

func (c *CLI) cmdSay(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: say <text>")
	}
	return c.sess.SendChat(strings.Join(args, " "))
}

func (c *CLI) cmdCreate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: create <name>")
	}
	if err := c.sess.CreateLobby(strings.Join(args, " ")); err != nil {
		return err
	}
	fmt.Println("Create requested.")
	return nil
}
