// Package promo validates promo codes and computes the discount they grant.
package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
)

var (
	ErrNotFound    = errors.New("promo code not found")
	ErrInactive    = errors.New("promo code inactive")
	ErrExpired     = errors.New("promo code expired")
	ErrMinSubtotal = errors.New("order subtotal below promo minimum")
)

type Kind string

const (
	KindPercent Kind = "percent"
	KindFlat    Kind = "flat"
)

// Promo is stored in the promos table keyed by the upper-cased code. Amounts are minor units.
type Promo struct {
	Code        string     `dynamodbav:"code" json:"code"`
	Kind        Kind       `dynamodbav:"kind" json:"kind"`
	Value       int64      `dynamodbav:"value" json:"value"` // percent (0-100) or flat amount
	MinSubtotal int64      `dynamodbav:"min_subtotal,omitempty" json:"min_subtotal,omitempty"`
	MaxDiscount int64      `dynamodbav:"max_discount,omitempty" json:"max_discount,omitempty"`
	Active      bool       `dynamodbav:"active" json:"active"`
	ExpiresAt   *time.Time `dynamodbav:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Discount returns the amount taken off subtotal, never more than subtotal itself.
func (p *Promo) Discount(subtotal int64, now time.Time) (int64, error) {
	if !p.Active {
		return 0, fmt.Errorf("%w: %s", ErrInactive, p.Code)
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return 0, fmt.Errorf("%w: %s", ErrExpired, p.Code)
	}
	if subtotal < p.MinSubtotal {
		return 0, fmt.Errorf("%w: %s needs %d", ErrMinSubtotal, p.Code, p.MinSubtotal)
	}
	var d int64
	switch p.Kind {
	case KindPercent:
		pct := p.Value
		if pct > 100 {
			pct = 100
		}
		d = subtotal * pct / 100
	case KindFlat:
		d = p.Value
	default:
		return 0, fmt.Errorf("promo %s: unknown kind %q", p.Code, p.Kind)
	}
	if p.MaxDiscount > 0 && d > p.MaxDiscount {
		d = p.MaxDiscount
	}
	if d > subtotal {
		d = subtotal
	}
	if d < 0 {
		d = 0
	}
	return d, nil
}

// Store reads promos.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Normalize upper-cases and trims a user-entered code.
func Normalize(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func (s *Store) Get(ctx context.Context, code string) (*Promo, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       map[string]types.AttributeValue{"code": &types.AttributeValueMemberS{Value: Normalize(code)}},
	})
	if err != nil {
		return nil, fmt.Errorf("get promo: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Normalize(code))
	}
	var p Promo
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal promo: %w", err)
	}
	return &p, nil
}

// Apply looks the code up and computes its discount for subtotal.
func (s *Store) Apply(ctx context.Context, code string, subtotal int64) (int64, error) {
	p, err := s.Get(ctx, code)
	if err != nil {
		return 0, err
	}
	return p.Discount(subtotal, s.nowFunc())
}

// Put stores a promo; used by seeding and tests.
func (s *Store) Put(ctx context.Context, p *Promo) error {
	p.Code = Normalize(p.Code)
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal promo: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put promo: %w", err)
	}
	return nil
}
