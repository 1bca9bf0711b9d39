package lifecycle

import (
	"context"
	"log"

	"github.com/jmgilman/go/errors"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

// Control message types.
const (
	MessageSkipWaiting  = "SKIP_WAITING"
	MessageClearCache   = "CLEAR_CACHE"
	MessageGetCacheInfo = "GET_CACHE_INFO"
	// MessageGetCacheSize is the older form of GET_CACHE_INFO that only
	// answers with the entry count.
	MessageGetCacheSize = "GET_CACHE_SIZE"
)

// Message is a control message sent by a page or operator.
type Message struct {
	Type string `json:"type"`
}

// Reply is the answer to a control message. Every reply carries the
// generation state after the message was applied.
type Reply struct {
	Type         string `json:"type"`
	GenerationID string `json:"generationId"`
	EntryCount   int    `json:"entryCount"`
	Size         *int   `json:"size,omitempty"`
	State        State  `json:"state"`
}

// HandleMessage applies a control message.
func (m *Manager) HandleMessage(ctx context.Context, msg Message) (*Reply, error) {
	if m.config.Verbose {
		log.Printf("Lifecycle: message %s for %s", msg.Type, m.generation)
	}

	switch msg.Type {
	case MessageSkipWaiting:
		if _, err := m.SkipWaiting(ctx); err != nil {
			return nil, err
		}
	case MessageClearCache:
		if err := m.clear(); err != nil {
			m.reporter.Report(report.Event{Operation: "message", Subject: msg.Type, Outcome: report.OutcomeFatal, Err: err})
			return nil, err
		}
	case MessageGetCacheInfo, MessageGetCacheSize:
	default:
		err := errors.Newf(errors.CodeInvalidInput, "unknown message type %q", msg.Type)
		return nil, errors.WithContext(err, "type", msg.Type)
	}

	info, err := m.Info()
	if err != nil {
		return nil, err
	}
	m.reporter.Report(report.Event{Operation: "message", Subject: msg.Type, Outcome: report.OutcomeSuccess})

	reply := &Reply{
		Type:         msg.Type,
		GenerationID: info.GenerationID,
		EntryCount:   info.EntryCount,
		State:        info.State,
	}
	if msg.Type == MessageGetCacheSize {
		size := info.EntryCount
		reply.Size = &size
	}
	return reply, nil
}
