// Package cart clears a user's cart after an order is admitted or paid.
package cart

import (
	"context"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
)

// batchLimit is the DynamoDB BatchWriteItem maximum.
const batchLimit = 25

// Store operates on the carts table (PK user_id, SK item_id).
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Clear deletes every cart line of userID and returns how many were removed.
func (s *Store) Clear(ctx context.Context, userID string) (int, error) {
	var keys []map[string]types.AttributeValue
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			KeyConditionExpression: awsString("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ProjectionExpression: awsString("user_id, item_id"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return 0, fmt.Errorf("query cart: %w", err)
		}
		for _, it := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{
				"user_id": it["user_id"],
				"item_id": it["item_id"],
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	for i := 0; i < len(keys); i += batchLimit {
		end := i + batchLimit
		if end > len(keys) {
			end = len(keys)
		}
		reqs := make([]types.WriteRequest, 0, end-i)
		for _, k := range keys[i:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		if err := s.deleteBatch(ctx, reqs); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// deleteBatch resubmits unprocessed items a bounded number of times.
func (s *Store) deleteBatch(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: reqs}
	for attempt := 0; attempt < 3 && len(pending[s.tableName]) > 0; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dyn.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch delete cart: %w", err)
		}
		pending = out.UnprocessedItems
	}
	if n := len(pending[s.tableName]); n > 0 {
		return fmt.Errorf("batch delete cart: %d items left unprocessed", n)
	}
	return nil
}

func awsString(s string) *string { return &s }
