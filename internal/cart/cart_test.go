package cart

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-reconciler/internal/testutil"
)

func TestClearRemovesOnlyUsersLines(t *testing.T) {
	fake := testutil.NewFakeDynamo(map[string][]string{"carts": {"user_id", "item_id"}})
	for i := 0; i < 30; i++ {
		fake.Seed("carts", map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: "u1"},
			"item_id": &types.AttributeValueMemberS{Value: fmt.Sprintf("i%02d", i)},
		})
	}
	fake.Seed("carts", map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: "u2"},
		"item_id": &types.AttributeValueMemberS{Value: "i1"},
	})

	n, err := NewStore(fake, "carts").Clear(context.Background(), "u1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 30 {
		t.Fatalf("expected 30 removed, got %d", n)
	}
	if got := fake.Calls("BatchWriteItem"); got != 2 {
		t.Fatalf("expected 2 batches of at most 25, got %d", got)
	}
	if fake.Len("carts") != 1 || fake.Item("carts", "u2", "i1") == nil {
		t.Fatalf("other users' carts must survive")
	}
}

func TestClearEmptyCart(t *testing.T) {
	fake := testutil.NewFakeDynamo(map[string][]string{"carts": {"user_id", "item_id"}})
	n, err := NewStore(fake, "carts").Clear(context.Background(), "nobody")
	if err != nil || n != 0 {
		t.Fatalf("clear empty: %d %v", n, err)
	}
	if fake.Calls("BatchWriteItem") != 0 {
		t.Fatalf("no batch expected for an empty cart")
	}
}
