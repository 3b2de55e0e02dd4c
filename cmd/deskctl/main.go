package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/uznikturbo/service/internal/auth"
	"github.com/uznikturbo/service/internal/channel"
	"github.com/uznikturbo/service/internal/chat"
	"github.com/uznikturbo/service/internal/client"
	"github.com/uznikturbo/service/internal/config"
	"github.com/uznikturbo/service/internal/events"
	"github.com/uznikturbo/service/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "login":
		cmdLogin(os.Args[2:])
	case "logout":
		cmdLogout()
	case "register":
		cmdRegister(os.Args[2:])
	case "whoami":
		cmdWhoami()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deskctl tickets <list|show|create|delete|status>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList()
		case "show":
			cmdTicketsShow(os.Args[3:])
		case "create":
			cmdTicketsCreate(os.Args[3:])
		case "delete":
			cmdTicketsDelete(os.Args[3:])
		case "status":
			cmdTicketsStatus(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "chat":
		cmdChat(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`deskctl — service desk client

Usage:
  deskctl login -email <email> [-password <password>]
  deskctl logout
  deskctl register -username <name> -email <email> -password <password>
  deskctl whoami
  deskctl tickets list
  deskctl tickets show <id>
  deskctl tickets create -title <title> -description <text> [-image <url>]
  deskctl tickets delete <id>
  deskctl tickets status <id> <status>
  deskctl chat <ticket-id>

Environment:
  DESK_BASE_URL   Backend origin (required)
  DESK_WS_URL     Websocket origin (derived from DESK_BASE_URL)
  DESK_DATA_DIR   Session storage directory (default ~/.deskd)`)
}

// setup builds the credential store and API client from environment
// configuration.
func setup() (*client.Client, auth.Store, *config.Config) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fatal("config: %v", err)
	}

	os.MkdirAll(cfg.DataDir, 0o755)
	var store auth.Store
	sqlStore, err := auth.NewSQLiteStore(filepath.Join(cfg.DataDir, "credentials.db"), logger)
	if err != nil {
		store = auth.NewMemStore()
	} else {
		store = sqlStore
	}

	bus := events.NewBus(0)
	coordinator := auth.NewCoordinator(store, cfg.Backend.BaseURL, bus, logger)
	return client.New(cfg.Backend.BaseURL, store, coordinator, bus, logger), store, cfg
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", os.Getenv("DESK_EMAIL"), "Account email")
	password := fs.String("password", os.Getenv("DESK_PASSWORD"), "Account password")
	fs.Parse(args)

	if *email == "" || *password == "" {
		fatal("login requires -email and -password")
	}

	api, _, _ := setup()
	if err := api.Login(context.Background(), *email, *password); err != nil {
		fatal("login: %v", err)
	}
	fmt.Println("logged in")
}

func cmdLogout() {
	api, _, _ := setup()
	api.Logout()
	fmt.Println("logged out")
}

func cmdRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	username := fs.String("username", "", "Username")
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Account password")
	fs.Parse(args)

	if *username == "" || *email == "" || *password == "" {
		fatal("register requires -username, -email and -password")
	}

	api, _, _ := setup()
	user, err := api.Register(context.Background(), *username, *email, *password)
	if err != nil {
		fatal("register: %v", err)
	}
	fmt.Printf("registered %s (id %d), check your email for the verification code\n", user.Username, user.ID)
}

func cmdWhoami() {
	api, _, _ := setup()
	user, err := api.Profile(context.Background())
	if err != nil {
		fatal("profile: %v", err)
	}
	role := "user"
	if user.IsAdmin {
		role = "admin"
	}
	fmt.Printf("%s <%s> (id %d, %s)\n", user.Username, user.Email, user.ID, role)
}

func cmdTicketsList() {
	api, _, _ := setup()
	tickets, err := api.ListTickets(context.Background())
	if err != nil {
		fatal("list tickets: %v", err)
	}
	if len(tickets) == 0 {
		fmt.Println("no tickets")
		return
	}
	for _, t := range tickets {
		assigned := "-"
		if t.AdminID != nil {
			assigned = strconv.Itoa(*t.AdminID)
		}
		fmt.Printf("%-5d %-12s admin=%-4s %s\n", t.ID, t.Status, assigned, t.Title)
	}
}

func cmdTicketsShow(args []string) {
	id := requireID(args, "deskctl tickets show <id>")
	api, _, _ := setup()
	t, err := api.GetTicket(context.Background(), id)
	if err != nil {
		fatal("get ticket: %v", err)
	}
	fmt.Printf("Ticket %d: %s\n", t.ID, t.Title)
	fmt.Printf("  Status:  %s\n", t.Status)
	fmt.Printf("  Created: %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Owner:   %d\n", t.UserID)
	if t.AdminID != nil {
		fmt.Printf("  Admin:   %d\n", *t.AdminID)
	}
	fmt.Printf("  %s\n", t.Description)
	if t.Response != nil {
		fmt.Printf("  Response: %s\n", t.Response.Message)
	}
	if t.Record != nil {
		fmt.Printf("  Work done: %s (warranty: %s)\n", t.Record.WorkDone, t.Record.WarrantyInfo)
	}
}

func cmdTicketsCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	title := fs.String("title", "", "Ticket title")
	description := fs.String("description", "", "Problem description")
	image := fs.String("image", "", "Optional image URL")
	fs.Parse(args)

	if *title == "" || *description == "" {
		fatal("create requires -title and -description")
	}

	api, _, _ := setup()
	t, err := api.CreateTicket(context.Background(), *title, *description, *image)
	if err != nil {
		fatal("create ticket: %v", err)
	}
	fmt.Printf("created ticket %d\n", t.ID)
}

func cmdTicketsDelete(args []string) {
	id := requireID(args, "deskctl tickets delete <id>")
	api, _, _ := setup()
	if err := api.DeleteTicket(context.Background(), id); err != nil {
		fatal("delete ticket: %v", err)
	}
	fmt.Printf("deleted ticket %d\n", id)
}

func cmdTicketsStatus(args []string) {
	if len(args) < 2 {
		fatal("usage: deskctl tickets status <id> <status>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		fatal("invalid ticket id %q", args[0])
	}
	api, _, _ := setup()
	t, err := api.UpdateTicketStatus(context.Background(), id, protocol.TicketStatus(args[1]))
	if err != nil {
		fatal("update status: %v", err)
	}
	fmt.Printf("ticket %d is now %q\n", t.ID, t.Status)
}

// cmdChat opens a live chat on a ticket: prints the log and incoming
// messages, sends stdin lines.
func cmdChat(args []string) {
	id := requireID(args, "deskctl chat <ticket-id>")
	api, store, cfg := setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	viewer, err := api.Profile(ctx)
	if err != nil {
		fatal("profile: %v", err)
	}
	ticket, err := api.GetTicket(ctx, id)
	if err != nil {
		fatal("get ticket: %v", err)
	}

	session, err := chat.Open(ctx, chat.Config{
		WSBaseURL: cfg.Backend.WSURL,
		Store:     store,
		Log:       api,
		OnMessage: func(m protocol.ChatMessage) {
			printChatMessage(m, viewer.ID)
		},
	}, ticket, viewer)
	if err != nil {
		fatal("chat: %v", err)
	}
	defer session.Close()

	// Wait briefly for the channel to open and the log to resync.
	for i := 0; i < 50; i++ {
		if state, _ := session.State(); state == channel.Open {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	for _, m := range session.Messages() {
		printChatMessage(m, viewer.ID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if state, _ := session.State(); state != channel.Open {
			fmt.Fprintln(os.Stderr, "(not connected, message not sent)")
			continue
		}
		session.Send(text)
	}
}

func printChatMessage(m protocol.ChatMessage, selfID int) {
	who := fmt.Sprintf("user %d", m.UserID)
	if m.IsPrivileged {
		who = fmt.Sprintf("admin %d", m.UserID)
	}
	if m.UserID == selfID {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), who, m.Message)
}

func requireID(args []string, usage string) int {
	if len(args) < 1 {
		fatal("usage: %s", usage)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		fatal("invalid ticket id %q", args[0])
	}
	return id
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
