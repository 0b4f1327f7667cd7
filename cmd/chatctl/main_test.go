// cmd/chatctl/main_test.go

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/auth"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

func TestTokenSubject(t *testing.T) {
	signed, err := auth.NewTokenService("secret", time.Hour).IssueAccessToken("user-42", "ada", "")
	require.NoError(t, err)

	id, err := tokenSubject(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)

	_, err = tokenSubject("not-a-token")
	assert.Error(t, err)
}

func TestFormatMessage(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)
	edited := created.Add(time.Minute)

	msg := &messaging.Message{
		ID:        "m1",
		Sender:    messaging.UserInfo{ID: "u1", Username: "ada", DisplayName: "Ada"},
		Content:   "hello",
		CreatedAt: created,
		EditedAt:  &edited,
		IsPinned:  true,
		Reactions: []messaging.Reaction{
			{Emoji: "👍", UserID: "u2"},
			{Emoji: "🎉", UserID: "u3"},
			{Emoji: "👍", UserID: "u3"},
		},
	}
	assert.Equal(t, "09:30 Ada: hello (edited) [pinned] 👍2 🎉1", formatMessage(msg))

	msg.Status = messaging.StatusFailed
	assert.Contains(t, formatMessage(msg), "(failed)")

	deleted := edited.Add(time.Minute)
	tomb := &messaging.Message{
		Sender:    messaging.UserInfo{Username: "ada"},
		Content:   "gone",
		CreatedAt: created,
		EditedAt:  &edited,
		DeletedAt: &deleted,
	}
	out := formatMessage(tomb)
	assert.NotContains(t, out, "gone")
	assert.NotContains(t, out, "(edited)")
}

func TestPrintConversations(t *testing.T) {
	var buf bytes.Buffer
	printConversations(&buf, nil)
	assert.Equal(t, "no conversations\n", buf.String())

	buf.Reset()
	printConversations(&buf, []*messaging.Conversation{{
		ID:          "c1",
		Name:        "Team",
		Kind:        "group",
		UnreadCount: 3,
		IsMuted:     true,
		LastMessage: &messaging.LastMessage{Content: "see you", Deleted: true},
	}})
	out := buf.String()
	assert.Contains(t, out, "Team")
	assert.Contains(t, out, "3 (muted)")
	assert.NotContains(t, out, "see you")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
