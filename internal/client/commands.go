package client

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roomcast/roomcast-server/internal/proto"
)

// PeerResolver maps a display name to a known client id.
type PeerResolver func(name string) (int64, bool)

var (
	singleRollRe = regexp.MustCompile(`^\d+$`)
	diceRollRe   = regexp.MustCompile(`^(\d+)d(\d+)$`)
)

// ParseInput turns one line of user input into the payload to send.
// Commands start with '/', private messages with '@name'; everything else is
// a plain room broadcast.
func ParseInput(text string, resolve PeerResolver) (proto.Payload, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, errors.New("empty input")
	case strings.HasPrefix(text, "/"):
		return parseCommand(text[1:], resolve)
	case strings.HasPrefix(text, "@"):
		return parsePrivateMessage(text[1:], resolve)
	default:
		return &proto.Message{Text: text}, nil
	}
}

func parseCommand(text string, resolve PeerResolver) (proto.Payload, error) {
	command, argument, _ := strings.Cut(text, " ")
	command = strings.ToLower(command)
	argument = strings.TrimSpace(argument)

	switch command {
	case "name":
		if argument == "" {
			return nil, errors.New("usage: /name <name>")
		}
		return &proto.Hello{Name: argument}, nil
	case "createroom":
		if argument == "" {
			return nil, errors.New("usage: /createroom <name>")
		}
		return &proto.CreateRoom{Room: argument}, nil
	case "joinroom":
		if argument == "" {
			return nil, errors.New("usage: /joinroom <name>")
		}
		return &proto.JoinRoom{Room: argument}, nil
	case "mute":
		id, err := resolveTarget(argument, resolve, "usage: /mute <username>")
		if err != nil {
			return nil, err
		}
		return &proto.Mute{TargetID: id, TargetName: argument}, nil
	case "unmute":
		id, err := resolveTarget(argument, resolve, "usage: /unmute <username>")
		if err != nil {
			return nil, err
		}
		return &proto.Unmute{TargetID: id, TargetName: argument}, nil
	case "roll":
		return parseRoll(argument)
	case "flip":
		return &proto.Flip{}, nil
	case "quit", "disconnect", "logoff", "logout":
		return &proto.Bye{}, nil
	default:
		return nil, fmt.Errorf("unknown command /%s", command)
	}
}

func parseRoll(argument string) (proto.Payload, error) {
	switch {
	case singleRollRe.MatchString(argument):
		bound, err := strconv.Atoi(argument)
		if err != nil {
			return nil, fmt.Errorf("parse roll bound: %w", err)
		}
		return &proto.Roll{Range: bound}, nil
	case diceRollRe.MatchString(argument):
		parts := diceRollRe.FindStringSubmatch(argument)
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parse dice count: %w", err)
		}
		sides, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("parse die sides: %w", err)
		}
		return &proto.Roll{Count: count, Sides: sides}, nil
	default:
		return nil, errors.New("usage: /roll <N> or /roll <N>d<M>")
	}
}

func parsePrivateMessage(text string, resolve PeerResolver) (proto.Payload, error) {
	name, body, ok := strings.Cut(text, " ")
	if !ok || strings.TrimSpace(body) == "" {
		return nil, errors.New("usage: @<username> <message>")
	}
	id, found := resolve(name)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	return &proto.PrivateMessage{TargetID: id, Text: strings.TrimSpace(body)}, nil
}

func resolveTarget(argument string, resolve PeerResolver, usage string) (int64, error) {
	if argument == "" {
		return 0, errors.New(usage)
	}
	id, found := resolve(argument)
	if !found {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, argument)
	}
	return id, nil
}
