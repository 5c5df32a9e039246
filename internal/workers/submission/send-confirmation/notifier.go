package sendconfirmation

import (
	"context"
	stderrors "errors"
	"fmt"

	"submission-sync/internal/remote"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESNotifier sends plain-text email through SES.
type SESNotifier struct {
	client SESService
	from   string
	cc     []string
}

func NewSESNotifier(client SESService, from string, cc []string) *SESNotifier {
	return &SESNotifier{client: client, from: from, cc: cc}
}

func (n *SESNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	to := ParseRecipients(recipient)
	if len(to) == 0 {
		return fmt.Errorf("no recipient address")
	}
	_, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(n.from),
		Destination: &sestypes.Destination{
			ToAddresses: to,
			CcAddresses: n.cc,
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// SNSNotifier publishes the confirmation to a topic. The recipient travels
// as a message attribute so subscribers can route on it.
type SNSNotifier struct {
	client   SNSService
	topicARN string
}

func NewSNSNotifier(client SNSService, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

// SNS rejects subjects longer than this.
const snsSubjectLimit = 100

func (n *SNSNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if len(subject) > snsSubjectLimit {
		subject = subject[:snsSubjectLimit]
	}
	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	}
	if recipient != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"recipient": {DataType: aws.String("String"), StringValue: aws.String(recipient)},
		}
	}
	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// MultiNotifier fans a message out to every notifier and joins the errors.
type MultiNotifier []remote.Notifier

func (m MultiNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, recipient, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
