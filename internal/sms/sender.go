// Package sms delivers one-time codes to subscribers.
package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"phone-auth-service/internal/util"
)

// Sender delivers a text message to an E.164 phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// snsPublisher is the subset of *sns.Client used here.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var (
	_ Sender = (*SNSSender)(nil)
	_ Sender = (*LogSender)(nil)
)

// SNSSender publishes transactional SMS through Amazon SNS.
type SNSSender struct {
	client   snsPublisher
	senderID string
}

func NewSNSSender(client snsPublisher, senderID string) *SNSSender {
	return &SNSSender{client: client, senderID: senderID}
}

func (s *SNSSender) Send(ctx context.Context, phone, message string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns sms: send to %s: %w", util.MaskPhone(phone), err)
	}
	return nil
}

// LogSender records that a message would have been sent. The message body
// carries the code and is never written.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.Info("SMS delivery skipped (log provider)",
		util.Phone("phone", phone),
		zap.Int("message_length", len(message)))
	return nil
}

// OTPMessage renders the text sent to the subscriber.
func OTPMessage(code string, expiryMinutes int) string {
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, expiryMinutes)
}
