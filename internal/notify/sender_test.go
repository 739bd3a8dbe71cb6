package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostmarkSender_Send(t *testing.T) {
	var got postmarkRequest
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Postmark-Server-Token")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	sender := NewPostmarkSender(srv.URL, "pm-token")
	err := sender.Send(context.Background(), Message{
		From:    "payments@example.com",
		To:      "resident@example.com",
		Subject: "Payment receipt",
		HTML:    "<p>hi</p>",
		Text:    "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "pm-token", token)
	assert.Equal(t, "resident@example.com", got.To)
	assert.Equal(t, "reconciliation", got.Tag)
}

func TestPostmarkSender_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer srv.Close()

	err := NewPostmarkSender(srv.URL, "pm-token").Send(context.Background(), Message{To: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code=300")
}
