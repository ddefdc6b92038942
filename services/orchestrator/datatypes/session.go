package datatypes

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Message author roles.
const (
	RoleUser   = "user"
	RoleAI     = "AI"
	RoleSystem = "system"
)

// Message kinds.
const (
	MsgTypeText = "text"
	MsgTypeTool = "tool"
	MsgTypeData = "data"
)

// lastMessagePreviewLen bounds the session's last_message preview.
const lastMessagePreviewLen = 100

// Session aggregates per-session metadata and cached analysis results.
type Session struct {
	SessionID        string               `json:"session_id"`
	Title            string               `json:"title"`
	MessageCount     int                  `json:"message_count"`
	LastMessage      string               `json:"last_message,omitempty"`
	RecommendedModel json.RawMessage      `json:"recommended_model,omitempty"`
	Profile          *DataSemanticProfile `json:"profile,omitempty"`
	CreatedAt        int64                `json:"created_at"`
	UpdatedAt        int64                `json:"updated_at"`
}

// Message is a single chat message belonging to a session.
type Message struct {
	SessionID string               `json:"session_id"`
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	Tools     []json.RawMessage    `json:"tools,omitempty"`
	MsgType   string               `json:"msg_type,omitempty"`
	Profile   *DataSemanticProfile `json:"profile,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// SessionUUID derives the deterministic Weaviate object UUID for a session
// identifier. Deterministic IDs make session writes natural upserts.
func SessionUUID(sessionID string) string {
	hash := sha256.Sum256([]byte("session|" + sessionID))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

// messageUUID derives the deterministic Weaviate object UUID for a message,
// so retried writes of the same message are idempotent.
func messageUUID(m *Message) string {
	content := fmt.Sprintf("%s|%s|%d|%s", m.SessionID, m.Role, m.Timestamp, m.Content)
	hash := sha256.Sum256([]byte(content))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

// WeaviateStore persists sessions and messages as single-document upserts.
//
// All writes are per-object; there are no multi-document transactions, so a
// crash between a message insert and the session counter bump leaves a
// tolerated inconsistency. Concurrent writers to the same session are
// last-write-wins per field.
type WeaviateStore struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateStore creates a store backed by the given client.
// Panics if client is nil: the store is a hard dependency where it is wired.
func NewWeaviateStore(client *weaviate.Client, logger *slog.Logger) *WeaviateStore {
	if client == nil {
		panic("NewWeaviateStore: nil weaviate client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateStore{client: client, logger: logger}
}

// CreateSession inserts a new session record and returns it.
func (s *WeaviateStore) CreateSession(ctx context.Context, title string) (*Session, error) {
	if title == "" {
		title = "New conversation"
	}
	now := time.Now().UnixMilli()
	session := &Session{
		SessionID: uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.client.Data().Creator().
		WithClassName("Session").
		WithID(SessionUUID(session.SessionID)).
		WithProperties(map[string]interface{}{
			"session_id":    session.SessionID,
			"title":         session.Title,
			"message_count": 0,
			"created_at":    now,
			"updated_at":    now,
		}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to save Session object to Weaviate: %w", err)
	}

	s.logger.Info("created session", "sessionId", session.SessionID, "title", title)
	return session, nil
}

// SaveMessage inserts one message and bumps the owning session's counters.
func (s *WeaviateStore) SaveMessage(ctx context.Context, msg *Message) error {
	return s.SaveMessages(ctx, []*Message{msg})
}

// SaveMessages batch-inserts messages, then updates each touched session's
// message_count and last_message preview.
//
// The message insert and the session update are separate writes; a failure
// between them is tolerated (the count drifts low rather than the message
// being lost).
func (s *WeaviateStore) SaveMessages(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batcher := s.client.Batch().ObjectsBatcher()
	for _, msg := range msgs {
		if msg.Timestamp == 0 {
			msg.Timestamp = time.Now().UnixMilli()
		}
		props := map[string]interface{}{
			"session_id": msg.SessionID,
			"role":       msg.Role,
			"content":    msg.Content,
			"timestamp":  msg.Timestamp,
		}
		if msg.MsgType != "" {
			props["msg_type"] = msg.MsgType
		}
		if len(msg.Tools) > 0 {
			tools, err := json.Marshal(msg.Tools)
			if err != nil {
				return fmt.Errorf("failed to encode message tools: %w", err)
			}
			props["tools"] = string(tools)
		}
		if msg.Profile != nil {
			profile, err := json.Marshal(msg.Profile)
			if err != nil {
				return fmt.Errorf("failed to encode message profile: %w", err)
			}
			props["profile"] = string(profile)
		}
		batcher = batcher.WithObjects(&models.Object{
			Class:      "Message",
			ID:         strfmt.UUID(messageUUID(msg)),
			Properties: props,
		})
	}

	if _, err := batcher.Do(ctx); err != nil {
		return fmt.Errorf("failed to save Message objects to Weaviate: %w", err)
	}

	for _, msg := range msgs {
		if err := s.bumpSession(ctx, msg.SessionID, msg.Content); err != nil {
			// Counter drift is tolerated; the message itself is durable.
			s.logger.Error("failed to update session counters",
				"sessionId", msg.SessionID, "error", err)
		}
	}
	return nil
}

// bumpSession increments message_count and refreshes the preview fields.
func (s *WeaviateStore) bumpSession(ctx context.Context, sessionID, content string) error {
	count := 0
	objects, err := s.client.Data().ObjectsGetter().
		WithClassName("Session").
		WithID(SessionUUID(sessionID)).
		Do(ctx)
	if err == nil && len(objects) > 0 {
		if props, ok := objects[0].Properties.(map[string]interface{}); ok {
			if n, ok := props["message_count"].(float64); ok {
				count = int(n)
			}
		}
	}

	preview := content
	if len(preview) > lastMessagePreviewLen {
		preview = preview[:lastMessagePreviewLen]
	}
	return s.UpsertSessionFields(ctx, sessionID, map[string]interface{}{
		"message_count": count + 1,
		"last_message":  preview,
	})
}

// UpsertSessionFields merge-updates fields on a session record, creating the
// record when it does not exist yet.
//
// Values that are not Weaviate primitives should be pre-encoded; raw JSON
// values are stored as text blobs.
func (s *WeaviateStore) UpsertSessionFields(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	props := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		switch val := v.(type) {
		case json.RawMessage:
			props[k] = string(val)
		default:
			props[k] = v
		}
	}
	props["updated_at"] = time.Now().UnixMilli()

	err := s.client.Data().Updater().
		WithClassName("Session").
		WithID(SessionUUID(sessionID)).
		WithProperties(props).
		WithMerge().
		Do(ctx)
	if err == nil {
		return nil
	}

	// Merge fails when the object does not exist; fall through to create.
	if !isNotFound(err) {
		return fmt.Errorf("failed to merge Session fields: %w", err)
	}

	props["session_id"] = sessionID
	props["created_at"] = props["updated_at"]
	_, err = s.client.Data().Creator().
		WithClassName("Session").
		WithID(SessionUUID(sessionID)).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create Session during upsert: %w", err)
	}
	return nil
}

// AttachProfile caches a dataset profile on the session record.
func (s *WeaviateStore) AttachProfile(ctx context.Context, sessionID string, profile *DataSemanticProfile) error {
	encoded, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return s.UpsertSessionFields(ctx, sessionID, map[string]interface{}{
		"profile": string(encoded),
	})
}

// isNotFound sniffs the client error for a 404 status. The v5 client does
// not expose a typed not-found error for data updates.
func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
