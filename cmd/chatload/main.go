// Command chatload is a batch chat client for exercising the relay: it
// registers a username, sends a fixed number of random payloads at an
// interval, then disconnects. The receive side counts the frames it observed
// while sending. Sender and receiver run concurrently, mirroring how the
// relay is used by real clients.
//
//	chatload -addr localhost:7667 -user bot1 -n 100 -interval 100ms
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-chat-relay/chatclient"
)

func main() {
	addr := flag.String("addr", "localhost:7667", "server address (host:port)")
	user := flag.String("user", "", "username to register (1-31 bytes)")
	count := flag.Int("n", 10, "number of messages to send")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between messages")
	linger := flag.Duration("linger", time.Second, "how long to keep receiving after the last send")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "chatload: -user is required")
		os.Exit(1)
	}

	var chats, joins, leaves atomic.Int64

	client := chatclient.New(chatclient.Config{
		Address:      *addr,
		Username:     *user,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	client.OnChat(func(chatclient.ChatEvent) { chats.Add(1) })
	client.OnJoin(func(chatclient.PresenceEvent) { joins.Add(1) })
	client.OnLeave(func(chatclient.PresenceEvent) { leaves.Add(1) })
	client.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "chatload: %v\n", err)
	})

	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "chatload: %v\n", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		for i := 0; i < *count; i++ {
			if err := client.SendChat(uuid.NewString()); err != nil {
				return fmt.Errorf("send %d/%d: %w", i+1, *count, err)
			}

			select {
			case <-time.After(*interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	g.Go(func() error {
		// Give late broadcasts a chance to arrive before disconnecting.
		sendTime := time.Duration(*count) * *interval
		select {
		case <-time.After(sendTime + *linger):
		case <-ctx.Done():
		}

		return nil
	})

	err := g.Wait()
	_ = client.Close()

	fmt.Printf("chatload %s: sent=%d received chats=%d joins=%d leaves=%d\n",
		*user, *count, chats.Load(), joins.Load(), leaves.Load())

	if err != nil {
		fmt.Fprintf(os.Stderr, "chatload: %v\n", err)
		os.Exit(1)
	}
}
