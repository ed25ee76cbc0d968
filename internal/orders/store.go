package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
)

// DefaultGatewayRefIndex is the GSI over gateway_order_ref.
const DefaultGatewayRefIndex = "gateway_order_ref-index"

// ConflictError reports which writes of a commit failed their condition. Index 0 of the
// transaction is always the order itself; Extra holds indexes into the caller's extra items.
type ConflictError struct {
	Order  bool
	Extra  []int
	create bool
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order commit conflict (order=%t extra=%v)", e.Order, e.Extra)
}

// Is maps the conflict onto the package sentinels.
func (e *ConflictError) Is(target error) bool {
	switch target {
	case ErrAlreadyExists:
		return e.create && e.Order
	case ErrVersionConflict:
		return !e.create || !e.Order
	}
	return false
}

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	refIndex  string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, refIndex string) *Store {
	if refIndex == "" {
		refIndex = DefaultGatewayRefIndex
	}
	return &Store{
		client:    client,
		tableName: tableName,
		refIndex:  refIndex,
		nowFunc:   time.Now,
	}
}

// TableName is used by callers that compose their own transaction items.
func (s *Store) TableName() string { return s.tableName }

// Create persists a new order at version 1 together with extra transaction items
// (stock writes, idempotency record). Either everything commits or nothing does.
func (s *Store) Create(ctx context.Context, o *Order, extra ...types.TransactWriteItem) error {
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 1

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	put := types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	}
	if err := s.write(ctx, put, extra, true); err != nil {
		o.Version = 0
		return err
	}
	return nil
}

// Save writes o if the stored version still equals o.Version, bumping the version on success.
// Extra items (stock writes) commit in the same transaction.
func (s *Store) Save(ctx context.Context, o *Order, extra ...types.TransactWriteItem) error {
	expected := o.Version
	next := *o
	next.Version = expected + 1
	next.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	put := types.Put{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString("#ver = :expected"),
		ExpressionAttributeNames: map[string]string{"#ver": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	}
	if err := s.write(ctx, put, extra, false); err != nil {
		return err
	}
	o.Version = next.Version
	o.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *Store) write(ctx context.Context, put types.Put, extra []types.TransactWriteItem, create bool) error {
	if len(extra) == 0 {
		_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeNames:  put.ExpressionAttributeNames,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
		if err != nil {
			var cc *types.ConditionalCheckFailedException
			if errors.As(err, &cc) {
				return &ConflictError{Order: true, create: create}
			}
			return fmt.Errorf("put order: %w", err)
		}
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(extra)+1)
	items = append(items, types.TransactWriteItem{Put: &put})
	items = append(items, extra...)
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return conflictFromReasons(tce.CancellationReasons, create)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func conflictFromReasons(reasons []types.CancellationReason, create bool) error {
	ce := &ConflictError{create: create}
	for i, r := range reasons {
		if r.Code == nil || *r.Code != "ConditionalCheckFailed" {
			continue
		}
		if i == 0 {
			ce.Order = true
			continue
		}
		ce.Extra = append(ce.Extra, i-1)
	}
	if !ce.Order && len(ce.Extra) == 0 {
		// cancelled for another reason (throttling, transaction conflict); treat as a version race
		ce.Order = !create
	}
	return ce
}

// Get fetches an order by order_id with a consistent read.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// FindByGatewayRef resolves an order through the reference index. Returns (nil, nil) if no
// order currently carries ref. The index is eventually consistent, so the hit is re-read.
func (s *Store) FindByGatewayRef(ctx context.Context, ref string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                &s.refIndex,
		KeyConditionExpression:   awsString("#ref = :ref"),
		ExpressionAttributeNames: map[string]string{"#ref": "gateway_order_ref"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
		},
		Limit: int32Ptr(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query gateway ref: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var hit struct {
		OrderID string `dynamodbav:"order_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &hit); err != nil {
		return nil, fmt.Errorf("unmarshal index hit: %w", err)
	}
	o, err := s.Get(ctx, hit.OrderID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func int32Ptr(v int32) *int32 { return &v }
