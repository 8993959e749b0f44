package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

func testMessage() port.Message {
	return port.Message{
		Key:      "reminder:REQ-1:day-5",
		Template: port.TemplateReminder,
		Channel:  port.ChannelOperations,
		Subject:  "5 day(s) left",
		Recipients: []port.Recipient{
			{Name: "Head", Email: "head@school.example"},
			{Name: "Ops", LarkOpenID: "ou_ops"},
		},
	}
}

func TestLogNotifier_Send(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Send(context.Background(), testMessage()))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "reminder:REQ-1:day-5", fields["key"])
	assert.Equal(t, "head@school.example,ou_ops", fields["to"])
}

func TestFanOut_TriesEveryNotifier(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := port.NewMockNotifier(ctrl)
	second := port.NewMockNotifier(ctrl)

	msg := testMessage()
	first.EXPECT().Send(gomock.Any(), msg).Return(workflow.Transient(errors.New("timeout")))
	second.EXPECT().Send(gomock.Any(), msg).Return(nil)

	err := NewFanOut(first, second).Send(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, workflow.IsTransient(err))
}

func TestFanOut_AllSucceed(t *testing.T) {
	ctrl := gomock.NewController(t)
	only := port.NewMockNotifier(ctrl)
	only.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

	assert.NoError(t, NewFanOut(only).Send(context.Background(), testMessage()))
}

func TestFanOut_MergesRecipientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := port.NewMockNotifier(ctrl)
	second := port.NewMockNotifier(ctrl)

	msg := testMessage()
	head, ops := msg.Recipients[0], msg.Recipients[1]
	first.EXPECT().Send(gomock.Any(), msg).Return(&port.DeliveryError{
		Delivered: 1,
		Failures:  []port.RecipientFailure{{Recipient: ops, Err: workflow.Transient(errors.New("timeout"))}},
	})
	second.EXPECT().Send(gomock.Any(), msg).Return(&port.DeliveryError{
		Failures: []port.RecipientFailure{
			{Recipient: head, Err: errors.New("blocked")},
			{Recipient: ops, Err: errors.New("blocked")},
		},
	})

	err := NewFanOut(first, second).Send(context.Background(), msg)

	var delivery *port.DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, 1, delivery.Delivered)
	require.Len(t, delivery.Failures, 2)
	assert.Equal(t, ops, delivery.Failures[0].Recipient)
	assert.Equal(t, head, delivery.Failures[1].Recipient)
}
