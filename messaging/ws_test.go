package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voucherpoint/models"
)

func newChannelServer(t *testing.T) (*Host, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	host := NewHost(zap.NewNop())
	r := gin.New()
	r.GET("/channel", host.Handler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return host, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/channel"
}

func TestHostAndDialExchangeEnvelopes(t *testing.T) {
	host, srv := newChannelServer(t)

	hostInbox := make(chan models.Envelope, 4)
	host.OnMessage(func(env models.Envelope) { hostInbox <- env })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(srv), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	clientInbox := make(chan models.Envelope, 4)
	client.OnMessage(func(env models.Envelope) { clientInbox <- env })

	require.NoError(t, client.Send(models.NewTerminalReady()))
	select {
	case env := <-hostInbox:
		assert.Equal(t, models.TypeTerminalReady, env.Type)
		assert.Equal(t, models.Scope, env.Scope)
	case <-time.After(2 * time.Second):
		t.Fatal("host never received terminal_ready")
	}

	// Host can only send once the peer is attached
	require.NoError(t, host.Send(models.NewPaymentAuthorized(models.PaymentAuthorization{
		TransactionID: "txn_1",
		AmountMinor:   5000,
		Currency:      "USD",
	})))
	select {
	case env := <-clientInbox:
		assert.Equal(t, models.TypePaymentAuthorized, env.Type)
		require.NotNil(t, env.Payload)
		assert.Equal(t, int64(5000), env.Payload.AmountMinor)
	case <-time.After(2 * time.Second):
		t.Fatal("client never received payment_authorized")
	}
}

func TestHostSendBeforePeer(t *testing.T) {
	host, _ := newChannelServer(t)
	err := host.Send(models.NewTerminalReady())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestHostRejectsSecondPeer(t *testing.T) {
	_, srv := newChannelServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := Dial(ctx, wsURL(srv), zap.NewNop())
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHostDropsInvalidMessages(t *testing.T) {
	host, srv := newChannelServer(t)

	inbox := make(chan models.Envelope, 4)
	host.OnMessage(func(env models.Envelope) { inbox <- env })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Foreign scope and garbage are filtered before the handler
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"scope":"other","type":"terminal_ready"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"scope":"payment-terminal","type":"terminal_ready"}`)))

	select {
	case env := <-inbox:
		assert.Equal(t, models.TypeTerminalReady, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("valid message never delivered")
	}
	assert.Empty(t, inbox)
}
