package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/DoyleJ11/storycards/internal/projector"
	"github.com/DoyleJ11/storycards/pkg/types"
)

var (
	ErrUnknownCommand = errors.New("unknown command, try /help")
	ErrUsage          = errors.New("usage")
	ErrNoSuchCard     = errors.New("no such card")
)

const helpText = `/story <card> <text>  tell a story about one of your cards
/pick <card>          pick a card that matches the story
/vote <card>          vote for a card on the table
/name <name>          change your display name
/quit                 leave
anything else is sent as chat; <card> is a number from the list or a card id`

type command struct {
	intent types.Intent
	quit   bool
	help   bool
}

// parseLine turns one line of input into a command. Card numbers refer to
// the lists currently on screen.
func parseLine(line string, st projector.State) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{intent: types.Message{Text: line}}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "quit", "exit", "q":
		return command{quit: true}, nil
	case "help", "h", "?":
		return command{help: true}, nil
	case "name":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /name <name>", ErrUsage)
		}
		return command{intent: types.Naming{Name: rest}}, nil
	case "story":
		ref, text, _ := strings.Cut(rest, " ")
		if ref == "" || strings.TrimSpace(text) == "" {
			return command{}, fmt.Errorf("%w: /story <card> <text>", ErrUsage)
		}
		id, err := resolveCard(ref, st.MyCards)
		if err != nil {
			return command{}, err
		}
		return command{intent: types.Story{CardID: id, Story: text}}, nil
	case "pick":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /pick <card>", ErrUsage)
		}
		id, err := resolveCard(rest, st.MyCards)
		if err != nil {
			return command{}, err
		}
		return command{intent: types.PickCard{CardID: id}}, nil
	case "vote":
		if rest == "" {
			return command{}, fmt.Errorf("%w: /vote <card>", ErrUsage)
		}
		id, err := resolveCard(rest, st.CardsOnBoard)
		if err != nil {
			return command{}, err
		}
		return command{intent: types.Vote{CardID: id}}, nil
	default:
		return command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
}

// resolveCard accepts a 1-based position in cards or a card id.
func resolveCard(ref string, cards []types.Card) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(cards) {
			return "", fmt.Errorf("%w: %d", ErrNoSuchCard, n)
		}
		return cards[n-1].ID, nil
	}
	for _, c := range cards {
		if c.ID == ref {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoSuchCard, ref)
}
