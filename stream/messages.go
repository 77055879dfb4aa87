// Package stream implements the Messages preorder traversal: it exposes
// a content-addressed, DAG-shaped stream as an ordered sequence of
// readable messages, topologically ordering children after their
// parent and re-queueing orphans until their predecessor arrives.
package stream

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/iotaledger/streams-sub000/address"
	"github.com/iotaledger/streams-sub000/identity"
	"github.com/iotaledger/streams-sub000/transport"
	"github.com/iotaledger/streams-sub000/user"
)

type staged struct {
	addr address.Address
	raw  []byte
}

type pending struct {
	topic  address.Topic
	id     identity.Identifier
	cursor uint64
}

// Filter is a predicate over a handled message, composed as an adapter
// over Messages.Next. A nil Filter admits everything.
type Filter func(*user.Handled) bool

// FilterBranch returns a Filter admitting only messages on topic.
func FilterBranch(topic address.Topic) Filter {
	return func(h *user.Handled) bool {
		switch h.Kind {
		case user.KindAnnouncement:
			return h.Announcement.HDF.Topic == topic
		case user.KindKeyload:
			return h.Keyload.HDF.Topic == topic
		case user.KindSignedPacket:
			return h.SignedPacket.HDF.Topic == topic
		case user.KindTaggedPacket:
			return h.TaggedPacket.HDF.Topic == topic
		default:
			return topic == address.BaseBranch
		}
	}
}

// Messages drives the preorder traversal of one User's stream. It holds
// exclusive logical access to u for its lifetime, per the concurrency
// model: no other operation should run concurrently against the same
// User while a Messages is in use.
type Messages struct {
	u      *user.User
	filter Filter

	stage           []staged
	msgQueue        map[address.MsgID][]staged
	idsStack        []pending
	successfulRound bool
	log             *logrus.Entry
}

// New creates a Messages traversal over u, optionally narrowed by f (a
// nil f admits every topic).
func New(u *user.User, f Filter) *Messages {
	return &Messages{
		u:        u,
		filter:   f,
		msgQueue: make(map[address.MsgID][]staged),
		log:      logrus.WithField("package", "stream"),
	}
}

// Next returns the next readable message in topological order, or
// (nil, nil) when no more messages are currently available — callers
// may call Next again later as new messages appear on the transport.
func (m *Messages) Next(ctx context.Context) (*user.Handled, error) {
	for {
		if len(m.stage) > 0 {
			s := m.stage[0]
			m.stage = m.stage[1:]

			h, err := m.u.HandleMessage(s.addr, s.raw)
			if err != nil {
				var orphan *user.OrphanError
				if errors.As(err, &orphan) {
					m.msgQueue[orphan.Linked] = append(m.msgQueue[orphan.Linked], s)
					continue
				}
				m.log.WithError(err).Debug("dropping unreadable staged message")
				continue
			}

			if children, ok := m.msgQueue[s.addr.Relative]; ok {
				m.stage = append(m.stage, children...)
				delete(m.msgQueue, s.addr.Relative)
			}

			if m.filter != nil && !m.filter(h) {
				continue
			}
			return h, nil
		}

		if len(m.idsStack) == 0 {
			m.refill()
			m.successfulRound = false
			if len(m.idsStack) == 0 {
				return nil, nil
			}
		}

		next := m.idsStack[len(m.idsStack)-1]
		m.idsStack = m.idsStack[:len(m.idsStack)-1]

		nextAddr, err := m.u.NextAddress(next.topic, next.id, next.cursor+1)
		if err != nil {
			if len(m.idsStack) == 0 && !m.successfulRound {
				return nil, nil
			}
			continue
		}

		raw, err := m.u.Transport().Recv(ctx, nextAddr)
		if err != nil {
			if !errors.Is(err, transport.ErrMissing) {
				return nil, err
			}
			if len(m.idsStack) == 0 && !m.successfulRound {
				return nil, nil
			}
			continue
		}

		m.stage = append(m.stage, staged{addr: nextAddr, raw: raw})
		m.successfulRound = true
	}
}

// refill repopulates idsStack from every known publisher's cursor on
// every known topic.
func (m *Messages) refill() {
	for _, topic := range m.u.IDStore().Topics() {
		for _, ic := range m.u.IDStore().Branch(topic).Cursors() {
			m.idsStack = append(m.idsStack, pending{topic: topic, id: ic.Identifier, cursor: ic.Cursor})
		}
	}
}
