package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	pkPrefix = "CONFESSION#"
	skMeta   = "META"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements ConfessionStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface check.
var _ ConfessionStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func confessionPK(tempID string) string {
	return pkPrefix + tempID
}

func key(tempID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: confessionPK(tempID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// Put upserts the record keyed by its tempId.
func (s *DynamoStore) Put(ctx context.Context, c *Confession) error {
	if c.TempID == "" {
		return fmt.Errorf("put confession: empty tempId")
	}
	if c.PublishedAt == 0 {
		c.PublishedAt = time.Now().Unix()
	}

	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	for k, v := range key(c.TempID) {
		item[k] = v
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s: %w", confessionPK(c.TempID), err)
	}

	log.Debug().Str("tempId", c.TempID).Str("objectKey", c.ObjectKey).Msg("Confession persisted to DynamoDB")
	return nil
}

// Get reads the record for tempID.
func (s *DynamoStore) Get(ctx context.Context, tempID string) (*Confession, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       key(tempID),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s: %w", confessionPK(tempID), err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var c Confession
	if err := attributevalue.UnmarshalMap(result.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s: %w", confessionPK(tempID), err)
	}
	c.TempID = tempID
	return &c, nil
}
