package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewService("client-id", "client-secret",
		option.WithEndpoint(ts.URL+"/"),
		option.WithHTTPClient(ts.Client()),
	)
}

func apiError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"failed","errors":[{"reason":%q}]}}`, code, reason)
}

var creds = Credentials{AccessToken: "token"}

func TestListNewMessages_PagesAndDedupes(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/history", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("startHistoryId"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"history":[{"id":"101","messagesAdded":[{"message":{"id":"a"}},{"message":{"id":"b"}}]}],"historyId":"105","nextPageToken":"p2"}`)
			return
		}
		fmt.Fprint(w, `{"history":[{"id":"102","messagesAdded":[{"message":{"id":"b"}},{"message":{"id":"c"}}]}],"historyId":"110"}`)
	})

	ids, newest, err := svc.ListNewMessages(context.Background(), creds, "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, "110", newest)
}

func TestListNewMessages_NoChanges(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"historyId":"100"}`)
	})

	ids, newest, err := svc.ListNewMessages(context.Background(), creds, "100")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, "100", newest)
}

func TestListNewMessages_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		want   error
	}{
		{"stale cursor", http.StatusNotFound, "notFound", ErrHistoryExpired},
		{"too many requests", http.StatusTooManyRequests, "rateLimitExceeded", ErrRateLimited},
		{"user rate limit", http.StatusForbidden, "userRateLimitExceeded", ErrRateLimited},
		{"revoked token", http.StatusUnauthorized, "authError", ErrReauthRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
				apiError(w, tt.code, tt.reason)
			})
			_, _, err := svc.ListNewMessages(context.Background(), creds, "100")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestListNewMessages_UnparseableCursor(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, _, err := svc.ListNewMessages(context.Background(), creds, "not-a-number")
	assert.ErrorIs(t, err, ErrHistoryExpired)
}

func TestForbiddenWithoutRateLimitIsNotRetryable(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusForbidden, "insufficientPermissions")
	})
	_, err := svc.GetMessage(context.Background(), creds, "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrReauthRequired)
}

func TestListRecentMessages_BoundedAndCapturesHistoryFirst(t *testing.T) {
	var calls []string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/gmail/v1/users/me/profile":
			fmt.Fprint(w, `{"emailAddress":"vc@fund.com","historyId":"777"}`)
		case "/gmail/v1/users/me/messages":
			assert.Equal(t, "3", r.URL.Query().Get("maxResults"))
			fmt.Fprint(w, `{"messages":[{"id":"m1"},{"id":"m2"},{"id":"m3"}],"nextPageToken":"more"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	ids, historyID, err := svc.ListRecentMessages(context.Background(), creds, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
	assert.Equal(t, "777", historyID)
	assert.Equal(t, "/gmail/v1/users/me/profile", calls[0])
}

func TestGetMessage_Converts(t *testing.T) {
	body := base64.URLEncoding.EncodeToString([]byte("Hi, we are raising a seed round."))
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/messages/m1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id":"m1","threadId":"t1","snippet":"Hi, we are raising","labelIds":["INBOX","UNREAD"],
			"internalDate":"1767225600000",
			"payload":{"mimeType":"multipart/mixed","headers":[
				{"name":"From","value":"Jane Founder <Jane@Startup.io>"},
				{"name":"Subject","value":"Seed round"},
				{"name":"Message-ID","value":"<abc@startup.io>"}
			],"parts":[
				{"mimeType":"text/plain","body":{"data":%q}},
				{"mimeType":"application/pdf","filename":"deck.pdf","body":{"attachmentId":"att","size":2048}}
			]}}`, body)
	})

	msg, err := svc.GetMessage(context.Background(), creds, "m1")
	require.NoError(t, err)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "jane@startup.io", msg.From)
	assert.Equal(t, "Jane Founder", msg.FromName)
	assert.Equal(t, "Seed round", msg.Subject)
	assert.Equal(t, "Hi, we are raising a seed round.", msg.Body)
	assert.False(t, msg.IsHTML)
	assert.True(t, msg.HasPDF())
	assert.Equal(t, "deck.pdf", msg.AttachmentText())
	assert.Equal(t, "<abc@startup.io>", msg.MessageIDHeader)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), msg.ReceivedAt)
}

func TestGetMessage_NotFound(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusNotFound, "notFound")
	})
	_, err := svc.GetMessage(context.Background(), creds, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStarred(t *testing.T) {
	var got string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/messages/m1/modify", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"m1"}`)
	})

	require.NoError(t, svc.SetStarred(context.Background(), creds, "m1", true))
	assert.Contains(t, got, `"addLabelIds":["STARRED"]`)

	require.NoError(t, svc.SetStarred(context.Background(), creds, "m1", false))
	assert.Contains(t, got, `"removeLabelIds":["STARRED"]`)
}

func TestReplyBuild(t *testing.T) {
	msg := &Message{
		ThreadID:        "t1",
		Subject:         "Seed round",
		MessageIDHeader: "<abc@startup.io>",
		References:      "<root@startup.io>",
		Headers:         map[string]string{"from": "Jane Founder <jane@startup.io>"},
	}

	reply := ReplyTo(msg, "vc@fund.com", "VC", "Thanks, send the deck.")
	assert.Equal(t, "Re: Seed round", reply.Subject)
	assert.Equal(t, "t1", reply.ThreadID)

	raw, err := reply.Build(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "In-Reply-To: <abc@startup.io>")
	assert.Contains(t, text, "References: <root@startup.io> <abc@startup.io>")
	assert.Contains(t, text, "jane@startup.io")
	assert.Contains(t, text, "Thanks, send the deck.")
	assert.Contains(t, text, "Content-Type: text/plain")

	again := ReplyTo(&Message{Subject: "RE: hello", Headers: map[string]string{"from": "a@b.co"}}, "", "", "x")
	assert.Equal(t, "RE: hello", again.Subject)

	_, err = Reply{Subject: "x"}.Build(time.Now())
	assert.Error(t, err)
}

func TestParseFrom(t *testing.T) {
	addr, name := parseFrom(`"Bob, CEO" <BOB@corp.com>`)
	assert.Equal(t, "bob@corp.com", addr)
	assert.Equal(t, "Bob, CEO", name)

	addr, name = parseFrom("noreply@service.com")
	assert.Equal(t, "noreply@service.com", addr)
	assert.Empty(t, name)
}
