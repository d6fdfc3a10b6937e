package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const deliveryTTL = 30 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DeliveryRecord is one delivery attempt.
type DeliveryRecord struct {
	DeliveryID    string `dynamodbav:"deliveryId"`
	ClinicID      string `dynamodbav:"clinicId"`
	AppointmentID string `dynamodbav:"appointmentId"`
	Kind          string `dynamodbav:"kind"`
	Channel       string `dynamodbav:"channel"`
	Recipient     string `dynamodbav:"recipient"`
	QueueNumber   int    `dynamodbav:"queueNumber"`
	Status        string `dynamodbav:"status"`
	ErrorMessage  string `dynamodbav:"errorMessage,omitempty"`
	CreatedAt     string `dynamodbav:"createdAt"`
	ExpiresAt     int64  `dynamodbav:"expiresAt"`
}

func newDeliveryRecord(n queue.Notice, channel Channel, recipient string, sendErr error) DeliveryRecord {
	now := time.Now().UTC()
	rec := DeliveryRecord{
		DeliveryID:    uuid.NewString(),
		ClinicID:      n.ClinicID,
		AppointmentID: n.AppointmentID,
		Kind:          string(n.Kind),
		Channel:       string(channel),
		Recipient:     recipient,
		QueueNumber:   n.QueueNumber,
		Status:        "sent",
		CreatedAt:     now.Format(time.RFC3339Nano),
		ExpiresAt:     now.Add(deliveryTTL).Unix(),
	}
	if sendErr != nil {
		rec.Status = "failed"
		rec.ErrorMessage = sendErr.Error()
	}
	return rec
}

// DeliveryLog writes delivery attempts to a DynamoDB table keyed by deliveryId.
type DeliveryLog struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewDeliveryLog(client dynamoAPI, tableName string, logger *logging.Logger) *DeliveryLog {
	if client == nil {
		panic("notify: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("notify: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DeliveryLog{client: client, tableName: tableName, logger: logger}
}

func (l *DeliveryLog) Record(ctx context.Context, rec DeliveryRecord) error {
	if rec.DeliveryID == "" {
		return errors.New("notify: delivery id required")
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("notify: failed to marshal delivery record: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("notify: failed to persist delivery record: %w", err)
	}
	return nil
}

var _ DeliveryRecorder = (*DeliveryLog)(nil)
