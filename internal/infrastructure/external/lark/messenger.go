package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// Lark response codes worth retrying
var retryableCodes = map[int]bool{
	99991400: true, // request frequency limit
	99991663: true, // tenant access token invalid, refreshed on next call
	99991672: true, // app rate limit
}

// createFunc sends one message and returns the API code and text
type createFunc func(ctx context.Context, idType, id, msgType, content string) (code int, msg string, err error)

// Messenger implements port.Notifier over Lark IM. Recipients are addressed by
// open_id when known and by email otherwise.
type Messenger struct {
	create createFunc
	logger *zap.Logger
}

// NewMessenger creates a new Lark notifier
func NewMessenger(client *lark.Client, logger *zap.Logger) *Messenger {
	return &Messenger{
		create: func(ctx context.Context, idType, id, msgType, content string) (int, string, error) {
			req := larkim.NewCreateMessageReqBuilder().
				ReceiveIdType(idType).
				Body(larkim.NewCreateMessageReqBodyBuilder().
					ReceiveId(id).
					MsgType(msgType).
					Content(content).
					Build()).
				Build()

			resp, err := client.Im.Message.Create(ctx, req)
			if err != nil {
				return 0, "", err
			}
			return resp.Code, resp.Msg, nil
		},
		logger: logger,
	}
}

// Send delivers msg to every addressable recipient. Recipients without an
// open_id or email are skipped. When some recipients fail the error is a
// *port.DeliveryError naming only those.
func (m *Messenger) Send(ctx context.Context, msg port.Message) error {
	content, err := postContent(msg)
	if err != nil {
		return err
	}

	var failures []port.RecipientFailure
	sent := 0
	for _, r := range msg.Recipients {
		idType, id, ok := receiver(r)
		if !ok {
			m.logger.Warn("Recipient has no Lark address", zap.String("key", msg.Key), zap.String("name", r.Name))
			continue
		}

		code, text, err := m.create(ctx, idType, id, "post", content)
		if err := classify(code, text, err); err != nil {
			m.logger.Error("Failed to send Lark message",
				zap.String("key", msg.Key),
				zap.String("receive_id", id),
				zap.Error(err))
			failures = append(failures, port.RecipientFailure{
				Recipient: r,
				Err:       fmt.Errorf("%s %s: %w", idType, id, err),
			})
			continue
		}
		sent++
	}

	if len(failures) > 0 {
		return &port.DeliveryError{Delivered: sent, Failures: failures}
	}

	m.logger.Info("Lark message sent", zap.String("key", msg.Key), zap.Int("recipients", sent))
	return nil
}

func receiver(r port.Recipient) (idType, id string, ok bool) {
	switch {
	case r.LarkOpenID != "":
		return "open_id", r.LarkOpenID, true
	case r.Email != "":
		return "email", r.Email, true
	}
	return "", "", false
}

// classify turns a transport error or a failed API code into an error. Network
// failures and throttling are transient.
func classify(code int, text string, err error) error {
	if err != nil {
		return workflow.Transient(fmt.Errorf("lark request failed: %w", err))
	}
	if code == 0 {
		return nil
	}
	apiErr := fmt.Errorf("lark API error: code=%d, msg=%s", code, text)
	if retryableCodes[code] {
		return workflow.Transient(apiErr)
	}
	return apiErr
}

type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// postContent renders msg as a Lark rich-text post, one paragraph per line
func postContent(msg port.Message) (string, error) {
	lines := strings.Split(msg.Body, "\n")
	for _, a := range msg.Attachments {
		lines = append(lines, "Attachment: "+a)
	}

	body := postBody{Title: msg.Subject}
	for _, line := range lines {
		body.Content = append(body.Content, []postElement{{Tag: "text", Text: line}})
	}

	data, err := json.Marshal(map[string]postBody{"en_us": body})
	if err != nil {
		return "", fmt.Errorf("failed to marshal post content: %w", err)
	}
	return string(data), nil
}
