package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DoyleJ11/storycards/internal/engine"
	"github.com/DoyleJ11/storycards/internal/projector"
	"github.com/DoyleJ11/storycards/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrEmptyText     = engine.ErrEmptyText
	ErrMissingCard   = errors.New("no card given")
	ErrUnknownIntent = errors.New("unknown intent")
)

// Emit sends one intent. It does not wait for the server: the effect, if
// any, arrives with a later snapshot. Before a channel is open the call is
// a no-op. Only local validation and gating return errors; a gating
// rejection is also published to subscribers.
func (s *Session) Emit(ctx context.Context, in types.Intent) error {
	in, err := normalize(in)
	if err != nil {
		return err
	}
	return s.do(ctx, func() error { return s.emit(in) })
}

// SetName supplies a display name that was not known at mount. It is sent
// as a naming intent once per session and used in every later join.
func (s *Session) SetName(ctx context.Context, name string) error {
	name = clean(name)
	if name == "" {
		return ErrEmptyText
	}
	return s.do(ctx, func() error {
		s.name = name
		if !s.namingSent {
			s.namingSent = s.send(types.EventMove, types.Naming{Name: name}.Move())
		}
		return nil
	})
}

func (s *Session) emit(in types.Intent) error {
	if err := s.gate(in); err != nil {
		s.log.Info("intent rejected", zap.String("move", string(in.Move().Type)), zap.Error(err))
		s.publish(projector.ChangeNone, err)
		return err
	}

	sent := s.send(types.EventMove, in.Move())
	if n, ok := in.(types.Naming); ok {
		s.name = n.Name
		s.namingSent = s.namingSent || sent
	}
	return nil
}

// gate applies the stage/role matrix. Without strict gating only the
// storyteller check is enforced here; the rest is left to the view.
func (s *Session) gate(in types.Intent) error {
	var action engine.Action
	switch in.(type) {
	case types.Story:
		action = engine.ActionStory
	case types.PickCard:
		action = engine.ActionPickCard
	case types.Vote:
		action = engine.ActionVote
	default:
		return nil
	}

	st := s.proj.State()
	if s.strict {
		return engine.Check(st.Stage, st.AmIStoryteller(), action)
	}
	if action == engine.ActionStory && !st.AmIStoryteller() {
		return engine.ErrNotStoryteller
	}
	return nil
}

func normalize(in types.Intent) (types.Intent, error) {
	switch v := in.(type) {
	case types.Naming:
		if v.Name = clean(v.Name); v.Name == "" {
			return nil, ErrEmptyText
		}
		return v, nil
	case types.Story:
		if v.CardID = strings.TrimSpace(v.CardID); v.CardID == "" {
			return nil, ErrMissingCard
		}
		if v.Story = clean(v.Story); v.Story == "" {
			return nil, ErrEmptyText
		}
		return v, nil
	case types.PickCard:
		if v.CardID = strings.TrimSpace(v.CardID); v.CardID == "" {
			return nil, ErrMissingCard
		}
		return v, nil
	case types.Vote:
		if v.CardID = strings.TrimSpace(v.CardID); v.CardID == "" {
			return nil, ErrMissingCard
		}
		return v, nil
	case types.Message:
		if v.Text = clean(v.Text); v.Text == "" {
			return nil, ErrEmptyText
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownIntent, in)
	}
}

// clean trims and NFC-normalises user text so the server sees one form of
// every name and caption.
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
