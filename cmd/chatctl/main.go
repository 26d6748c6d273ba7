// chatctl is a minimal terminal client for the CRM chat. It lists the
// caller's rooms, tails one of them, and sends stdin lines as messages.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/eveneto/chatcore/internal/config"
	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/internal/service"
	pkgconfig "github.com/eveneto/chatcore/pkg/config"
	"github.com/eveneto/chatcore/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()

	sessionToken := pkgconfig.MustGetEnv("CHAT_TOKEN")

	chat, err := service.NewChatService(cfg, func() string { return sessionToken })
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialise chat service")
	}
	defer chat.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chat.Start(ctx)

	rooms, err := chat.Rooms(ctx)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to list rooms")
	}
	if len(rooms) == 0 {
		fmt.Println("no rooms")
		return
	}

	for i, room := range rooms {
		preview := ""
		if room.LastMessage != nil {
			preview = fmt.Sprintf(" — %s: %s", room.LastMessage.Sender, room.LastMessage.Content)
		}
		fmt.Printf("[%d] %s (%s, %d unread)%s\n", i, room.Name, room.Type, room.UnreadCount, preview)
	}

	roomID := pkgconfig.GetEnv("CHAT_ROOM", rooms[0].ID)
	if len(os.Args) > 1 {
		roomID = os.Args[1]
	}

	chat.Subscribe(func(n service.Notification) {
		switch n.Kind {
		case service.NoteMessages:
			// Tail: print the newest message of the open room.
			msgs := chat.Messages(n.RoomID)
			if len(msgs) > 0 {
				m := msgs[len(msgs)-1]
				fmt.Printf("%s %s: %s\n", m.CreatedAt.Format("15:04"), m.Sender.Username, m.Content)
			}
		case service.NotePresence:
			if typing := chat.TypingUsers(n.RoomID); len(typing) > 0 {
				names := make([]string, len(typing))
				for i, u := range typing {
					names[i] = u.Username
				}
				fmt.Printf("… %s typing\n", strings.Join(names, ", "))
			}
		case service.NoteConnection:
			if n.Err != nil {
				fmt.Printf("-- connection: %s (%v)\n", n.State, n.Err)
			} else {
				fmt.Printf("-- connection: %s\n", n.State)
			}
		case service.NoteServerError:
			fmt.Printf("-- server error: %s\n", n.Message)
		case service.NoteRooms:
		}
	})

	detail, err := chat.OpenRoom(ctx, roomID)
	if err != nil {
		l.Fatal().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to open room")
	}
	if detail == nil {
		return
	}
	fmt.Printf("== %s (%d members) ==\n", detail.Name, detail.ParticipantCount)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			chat.CloseRoom()
			return
		case line == "/older":
			if _, err := chat.LoadOlder(ctx); err != nil {
				fmt.Printf("-- load older failed: %v\n", err)
			}
		default:
			if err := chat.Send(line, domain.MessageText, ""); err != nil {
				fmt.Printf("-- send failed: %v\n", err)
			}
		}
	}
}
