// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsapi "github.com/imrishuroy/storefront-reconciler/internal/aws"
)

var _ awsapi.DynamoDBAPI = (*FakeDynamo)(nil)

// FakeDynamo is a small in-memory DynamoDB supporting the expressions the stores emit:
// attribute_exists / attribute_not_exists / equality conditions joined by AND, SET updates,
// equality key conditions on Query, BatchWriteItem and TransactWriteItems.
type FakeDynamo struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]map[string]types.AttributeValue
	calls  map[string]int

	// Err, when set, is returned by every call. Used to simulate an unreachable datastore.
	Err error
	// BeforeTransact runs (without the lock held) before a transaction is evaluated, letting tests
	// interleave a competing writer between a read and a commit.
	BeforeTransact func()
}

// NewFakeDynamo creates a fake with the given table -> key attribute names schema.
func NewFakeDynamo(schema map[string][]string) *FakeDynamo {
	f := &FakeDynamo{
		keys:   map[string][]string{},
		tables: map[string]map[string]map[string]types.AttributeValue{},
		calls:  map[string]int{},
	}
	for table, attrs := range schema {
		f.keys[table] = attrs
		f.tables[table] = map[string]map[string]types.AttributeValue{}
	}
	return f
}

// Calls returns how many times op (e.g. "TransactWriteItems") was invoked.
func (f *FakeDynamo) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of a stored item or nil.
func (f *FakeDynamo) Item(table string, key ...string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = "S:" + k
	}
	item, ok := f.tables[table][strings.Join(parts, "|")]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of items stored in table.
func (f *FakeDynamo) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Seed stores item unconditionally.
func (f *FakeDynamo) Seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	f.tables[table][pk] = copyItem(item)
}

func (f *FakeDynamo) enter(op string) error {
	f.calls[op]++
	return f.Err
}

func (f *FakeDynamo) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	attrs, ok := f.keys[table]
	if !ok {
		return "", &types.ResourceNotFoundException{Message: strPtr("table " + table + " not found")}
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		v, ok := item[a]
		if !ok {
			return "", fmt.Errorf("missing key attribute %s for table %s", a, table)
		}
		parts = append(parts, scalar(v))
	}
	return strings.Join(parts, "|"), nil
}

func (f *FakeDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	table := *params.TableName
	pk, err := f.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *FakeDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	table := *params.TableName
	pk, err := f.keyOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	existing := f.tables[table][pk]
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	f.tables[table][pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *FakeDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	table := *params.TableName
	pk, err := f.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	existing := f.tables[table][pk]
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	item := copyItem(existing)
	if item == nil {
		item = copyItem(params.Key)
	}
	if err := applySet(item, params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	f.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *FakeDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query"); err != nil {
		return nil, err
	}
	table := *params.TableName
	rows, ok := f.tables[table]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table " + table + " not found")}
	}
	if params.KeyConditionExpression == nil {
		return nil, errors.New("query requires a key condition")
	}
	pks := make([]string, 0, len(rows))
	for pk := range rows {
		pks = append(pks, pk)
	}
	sort.Strings(pks)
	var items []map[string]types.AttributeValue
	for _, pk := range pks {
		item := rows[pk]
		if evalCondition(params.KeyConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item) {
			items = append(items, copyItem(item))
		}
	}
	return &dyn.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

func (f *FakeDynamo) BatchWriteItem(ctx context.Context, params *dyn.BatchWriteItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BatchWriteItem"); err != nil {
		return nil, err
	}
	for table, reqs := range params.RequestItems {
		if len(reqs) > 25 {
			return nil, errors.New("batch write exceeds 25 items")
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				pk, err := f.keyOf(table, r.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				f.tables[table][pk] = copyItem(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				pk, err := f.keyOf(table, r.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(f.tables[table], pk)
			}
		}
	}
	return &dyn.BatchWriteItemOutput{}, nil
}

func (f *FakeDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	if hook := f.BeforeTransact; hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table string
		pk    string
		item  map[string]types.AttributeValue
		del   bool
	}
	var writes []write
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	seen := map[string]bool{}

	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		var (
			table, pk string
			err       error
			ok        bool
		)
		switch {
		case it.Put != nil:
			table = *it.Put.TableName
			pk, err = f.keyOf(table, it.Put.Item)
			if err == nil {
				ok = evalCondition(it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues, f.tables[table][pk])
				writes = append(writes, write{table: table, pk: pk, item: copyItem(it.Put.Item)})
			}
		case it.Update != nil:
			table = *it.Update.TableName
			pk, err = f.keyOf(table, it.Update.Key)
			if err == nil {
				existing := f.tables[table][pk]
				ok = evalCondition(it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues, existing)
				item := copyItem(existing)
				if item == nil {
					item = copyItem(it.Update.Key)
				}
				if serr := applySet(item, it.Update.UpdateExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues); serr != nil {
					return nil, serr
				}
				writes = append(writes, write{table: table, pk: pk, item: item})
			}
		case it.ConditionCheck != nil:
			table = *it.ConditionCheck.TableName
			pk, err = f.keyOf(table, it.ConditionCheck.Key)
			if err == nil {
				ok = evalCondition(it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues, f.tables[table][pk])
			}
		case it.Delete != nil:
			table = *it.Delete.TableName
			pk, err = f.keyOf(table, it.Delete.Key)
			if err == nil {
				ok = evalCondition(it.Delete.ConditionExpression, it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues, f.tables[table][pk])
				writes = append(writes, write{table: table, pk: pk, del: true})
			}
		default:
			return nil, errors.New("empty transact item")
		}
		if err != nil {
			return nil, err
		}
		if seen[table+"/"+pk] {
			return nil, errors.New("transaction references the same item more than once")
		}
		seen[table+"/"+pk] = true
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.del {
			delete(f.tables[w.table], w.pk)
			continue
		}
		f.tables[w.table][w.pk] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *FakeDynamo) DescribeTable(ctx context.Context, params *dyn.DescribeTableInput, optFns ...func(*dyn.Options)) (*dyn.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DescribeTable"); err != nil {
		return nil, err
	}
	if _, ok := f.tables[*params.TableName]; !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table not found")}
	}
	return &dyn.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   params.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) bool {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			name := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
			if _, ok := item[name]; ok {
				return false
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			name := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
			if _, ok := item[name]; !ok {
				return false
			}
		case strings.Contains(clause, " = "):
			parts := strings.SplitN(clause, " = ", 2)
			name := resolve(strings.TrimSpace(parts[0]), names)
			want, ok := values[strings.TrimSpace(parts[1])]
			if !ok {
				return false
			}
			got, ok := item[name]
			if !ok || scalar(got) != scalar(want) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func applySet(item map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) error {
	if expr == nil {
		return nil
	}
	e := strings.TrimSpace(*expr)
	if !strings.HasPrefix(e, "SET ") {
		return fmt.Errorf("unsupported update expression %q", e)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(e, "SET "), ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("unsupported assignment %q", assign)
		}
		name := resolve(strings.TrimSpace(parts[0]), names)
		v, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return fmt.Errorf("missing value for %q", assign)
		}
		item[name] = copyValue(v)
	}
	return nil
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if real, ok := names[name]; ok {
			return real
		}
	}
	return name
}

func scalar(v types.AttributeValue) string {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + tv.Value
	case *types.AttributeValueMemberN:
		return "N:" + tv.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprintf("BOOL:%t", tv.Value)
	case *types.AttributeValueMemberNULL:
		return "NULL"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: tv.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: tv.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: tv.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: tv.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), tv.Value...)}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(tv.Value)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			l[i] = copyValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	default:
		return v
	}
}

func strPtr(s string) *string { return &s }
