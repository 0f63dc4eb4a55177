package publish

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// DynamoEventLog is the durable event log on DynamoDB. The partition key
// is the event id, so a conditional put doubles as the insert-if-absent
// operation; the remaining attributes keep the log queryable for audit
// and analytics without touching the serialized body.
type DynamoEventLog struct {
	db    *dynamodb.Client
	table string
}

func NewDynamoEventLog(client *dynamodb.Client, table string) *DynamoEventLog {
	return &DynamoEventLog{db: client, table: table}
}

type eventItem struct {
	PartitionKey string `dynamodbav:"pk"`
	SortKey      string `dynamodbav:"sk"`
	EventType    string `dynamodbav:"type"`
	Category     string `dynamodbav:"category"`
	Aggregate    string `dynamodbav:"aggregate"`
	Version      int    `dynamodbav:"version"`
	OccurredAt   string `dynamodbav:"occurredAt"`
	Position     string `dynamodbav:"sourcePosition"`
	Body         []byte `dynamodbav:"body"`
}

const eventSortKey = "event"

func (l *DynamoEventLog) InsertIfAbsent(ctx context.Context, event *cdc.DomainEvent) (InsertResult, error) {
	body, err := MarshalRecord(event)
	if err != nil {
		return AlreadyPresent, errors.Wrap(err, "encode event record")
	}

	item, err := attributevalue.MarshalMap(eventItem{
		PartitionKey: event.EventID.String(),
		SortKey:      eventSortKey,
		EventType:    event.EventType.String(),
		Category:     event.Category.String(),
		Aggregate:    event.Aggregate.Encode().String(),
		Version:      event.Version,
		OccurredAt:   event.OccurredAt.String(),
		Position:     event.Metadata.Position.String(),
		Body:         body,
	})
	if err != nil {
		return AlreadyPresent, errors.Wrap(err, "marshal event item")
	}

	condition, err := expression.NewBuilder().WithCondition(
		expression.AttributeNotExists(expression.Name("pk")),
	).Build()
	if err != nil {
		return AlreadyPresent, errors.Wrap(err, "build condition")
	}

	_, err = l.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(l.table),
		Item:                      item,
		ConditionExpression:       condition.Condition(),
		ExpressionAttributeNames:  condition.Names(),
		ExpressionAttributeValues: condition.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return AlreadyPresent, nil
		}
		return AlreadyPresent, errors.Wrap(err, "put event item")
	}

	return Inserted, nil
}
