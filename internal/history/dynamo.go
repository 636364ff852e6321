package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key layout: one partition per owner, sort keys ordered by
// recording time so a reverse query lists newest first.
const (
	pkPrefix = "HISTORY#"
	skPrefix = "SCAN#"

	// sortTimeLayout is fixed width so sort keys order chronologically.
	sortTimeLayout = "20060102T150405.000000000Z"

	// Retention is how long DynamoDB keeps an entry before TTL expiry.
	Retention = 365 * 24 * time.Hour
)

// DynamoAPI is the part of the DynamoDB client DynamoLog uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoLog stores history in a DynamoDB table keyed by PK/SK with an
// expiresAt TTL attribute.
type DynamoLog struct {
	client DynamoAPI
	table  string
	owner  string
	now    func() time.Time
}

// NewDynamoLog creates a log for owner's history in table.
func NewDynamoLog(client DynamoAPI, table, owner string) *DynamoLog {
	if owner == "" {
		owner = "default"
	}
	return &DynamoLog{client: client, table: table, owner: owner, now: time.Now}
}

// dynamoItem is the stored form. The entry itself is kept as JSON so the
// result types need no DynamoDB tags.
type dynamoItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	JobID      string `dynamodbav:"jobId"`
	Kind       string `dynamodbav:"kind"`
	Title      string `dynamodbav:"title"`
	Safety     string `dynamodbav:"safety"`
	RecordedAt int64  `dynamodbav:"recordedAt"`
	Entry      string `dynamodbav:"entry"`
	ExpiresAt  int64  `dynamodbav:"expiresAt"`
}

func (d *DynamoLog) pk() string { return pkPrefix + d.owner }

func sortKey(e Entry) string {
	return skPrefix + e.RecordedAt.UTC().Format(sortTimeLayout) + "#" + e.JobID
}

func (d *DynamoLog) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	item, err := attributevalue.MarshalMap(dynamoItem{
		PK:         d.pk(),
		SK:         sortKey(e),
		JobID:      e.JobID,
		Kind:       e.Kind,
		Title:      e.Title,
		Safety:     string(e.Safety.Level),
		RecordedAt: e.RecordedAt.Unix(),
		Entry:      string(data),
		ExpiresAt:  d.now().Add(Retention).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.table,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", d.pk(), sortKey(e), err)
	}
	log.Debug().Str("jobId", e.JobID).Str("table", d.table).Msg("History entry stored")
	return nil
}

func (d *DynamoLog) List(ctx context.Context, limit int) ([]Entry, error) {
	input := d.newestFirstQuery()
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var out []Entry
	err := d.query(ctx, input, func(e Entry) bool {
		out = append(out, e)
		return limit > 0 && len(out) >= limit
	})
	return out, err
}

func (d *DynamoLog) Get(ctx context.Context, jobID string) (*Entry, error) {
	input := d.newestFirstQuery()
	input.FilterExpression = aws.String("jobId = :jobId")
	input.ExpressionAttributeValues[":jobId"] = &types.AttributeValueMemberS{Value: jobID}

	var found *Entry
	err := d.query(ctx, input, func(e Entry) bool {
		found = &e
		return true
	})
	return found, err
}

func (d *DynamoLog) newestFirstQuery() *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              &d.table,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: d.pk()},
			":sk": &types.AttributeValueMemberS{Value: skPrefix},
		},
		ScanIndexForward: aws.Bool(false),
	}
}

// query pages through input, calling visit for each decoded entry until it
// returns true. Undecodable items are skipped.
func (d *DynamoLog) query(ctx context.Context, input *dynamodb.QueryInput, visit func(Entry) bool) error {
	for {
		result, err := d.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("Query PK=%s: %w", d.pk(), err)
		}
		for _, raw := range result.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				log.Warn().Err(err).Msg("Skipping unreadable history item")
				continue
			}
			var e Entry
			if err := json.Unmarshal([]byte(item.Entry), &e); err != nil {
				log.Warn().Err(err).Str("jobId", item.JobID).Msg("Skipping unreadable history entry")
				continue
			}
			if visit(e) {
				return nil
			}
		}
		if result.LastEvaluatedKey == nil {
			return nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}
