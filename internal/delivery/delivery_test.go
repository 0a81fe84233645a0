package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argent/internal/faults"
)

func TestDispatcherRoutesByChannel(t *testing.T) {
	web, email := &LogSender{}, &LogSender{}
	d := NewDispatcher("")
	d.Register(ChannelWeb, web)
	d.Register(ChannelEmail, email)

	rec, err := d.Deliver(context.Background(), Outbound{PlayerID: "p1", AgentID: "ember", Channel: ChannelEmail, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, rec.Channel)
	assert.False(t, rec.Fallback)
	require.Len(t, email.Sent(), 1)
	assert.NotEmpty(t, rec.ExternalID)
	assert.Empty(t, web.Sent())
}

func TestDispatcherFallsBack(t *testing.T) {
	web := &LogSender{}
	d := NewDispatcher(ChannelWeb)
	d.Register(ChannelWeb, web)

	rec, err := d.Deliver(context.Background(), Outbound{PlayerID: "p1", AgentID: "miro", Channel: ChannelSMS, Body: "psst"})
	require.NoError(t, err)
	assert.True(t, rec.Fallback)
	require.Len(t, web.Sent(), 1)
	assert.Equal(t, ChannelWeb, web.Sent()[0].Channel)
}

func TestDispatcherWithoutAnySender(t *testing.T) {
	_, err := NewDispatcher("web").Deliver(context.Background(), Outbound{Channel: "email"})
	require.Error(t, err)
	assert.False(t, faults.IsExternal(err))
}

func TestSenderFailureIsRetryable(t *testing.T) {
	d := NewDispatcher("web")
	d.Register("web", SenderFunc(func(context.Context, Outbound) (string, error) {
		return "", errors.New("smtp timeout")
	}))

	_, err := d.Deliver(context.Background(), Outbound{Channel: "web"})
	require.Error(t, err)
	assert.True(t, faults.IsRetryable(err))
	assert.Contains(t, err.Error(), "smtp timeout")
}
