// Command chatcli is an interactive group-chat client: it registers a
// username, prints relayed messages and presence notices, and sends each
// stdin line as a chat message. Type "quit" or "exit" (or close stdin) to
// leave.
//
//	chatcli -addr localhost:7667 -user alice
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cyberinferno/go-chat-relay/chatclient"
)

func main() {
	addr := flag.String("addr", "localhost:7667", "server address (host:port)")
	user := flag.String("user", "", "username to register (1-31 bytes)")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "chatcli: -user is required")
		os.Exit(1)
	}

	client := chatclient.New(chatclient.Config{
		Address:      *addr,
		Username:     *user,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	client.OnChat(func(ev chatclient.ChatEvent) {
		// The server echoes our own messages back too.
		fmt.Printf("[%s@%s] %s\n", ev.From, ev.Addr, ev.Message)
	})
	client.OnJoin(func(ev chatclient.PresenceEvent) {
		fmt.Printf("* %s joined from %s\n", ev.Username, ev.Addr)
	})
	client.OnLeave(func(ev chatclient.PresenceEvent) {
		fmt.Printf("* %s left\n", ev.Username)
	})
	client.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	})

	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("connected to %s as %q; type messages, 'quit' to exit\n", *addr, *user)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "quit" || line == "exit" {
			break
		}
		if line == "/who" {
			fmt.Printf("present: %v\n", client.Roster())
			continue
		}
		if line == "" {
			continue
		}

		if err := client.SendChat(line); err != nil {
			fmt.Fprintf(os.Stderr, "chatcli: send failed: %v\n", err)
			break
		}
	}

	fmt.Println("disconnecting...")
	_ = client.Close()
}
