// Command chat is a minimal interactive terminal client for a roomcast server.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/roomcast/roomcast-server/internal/client"
	zlog "github.com/roomcast/roomcast-server/internal/log"
	"github.com/roomcast/roomcast-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:3000", "server address")
	name := flag.String("name", "cli-user", "display name")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	c, err := client.Dial(*addr, zlog.New(*level))
	if err != nil {
		return err
	}
	defer c.Close()

	go printLoop(c)

	if err := c.SetName(*name); err != nil {
		return fmt.Errorf("claim name: %w", err)
	}

	fmt.Printf("Connected to %s as %s\n", *addr, *name)
	fmt.Println("Type messages and press Enter to send. /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := c.SendText(line); err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	return scanner.Err()
}

func printLoop(c *client.Client) {
	for payload := range c.Events() {
		switch p := payload.(type) {
		case *proto.AssignID:
			fmt.Printf("* connected with id %d\n", p.ID)
		case *proto.Message:
			fmt.Printf("%s: %s\n", senderLabel(c, p.SenderID), p.Text)
		case *proto.PrivateMessage:
			fmt.Printf("[pm] %s: %s\n", senderLabel(c, p.SenderID), p.Text)
		case *proto.RoomJoined:
			fmt.Printf("* %s joined room %s\n", p.Name, p.Room)
		case *proto.RoomLeft:
			fmt.Printf("* %s left room %s\n", p.Name, p.Room)
		case *proto.PeerGone:
			fmt.Printf("* %s disconnected\n", p.Name)
		case *proto.MuteSync:
			fmt.Printf("* muted users: %v\n", p.Muted)
		case *proto.SyncClient:
			// Silent peer sync, the cache already recorded it.
		}
	}
	fmt.Println("* connection closed")
}

func senderLabel(c *client.Client, senderID int64) string {
	if senderID == proto.ServerSenderID {
		return "[server]"
	}
	if name, ok := c.PeerName(senderID); ok {
		return name
	}
	return fmt.Sprintf("client %d", senderID)
}
