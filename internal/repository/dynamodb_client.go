// Package repository implements the operational Record Store: a DynamoDB
// single-table keyed document store. Values are opaque JSON-shaped
// documents; multi-key consistency is achieved by write ordering, not
// transactions across keys.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store wraps a DynamoDB table as a key/value document store.
type Store struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new Store.
func New(api dynamodbAPI, tableName string) (*Store, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName}, nil
}

// Record Store key layout. The index documents exist because the store is
// get-by-key only; listing goes through them.
func ProfileKey(userID string) string  { return "USER#" + userID + "#PROFILE" }
func SettingsKey(userID string) string { return "USER#" + userID + "#SETTINGS" }
func ConversationIndexKey(userID string) string { return "USER#" + userID + "#CONVS" }
func ConversationKey(userID, conversationID string) string {
	return "USER#" + userID + "#CONV#" + conversationID
}
func AssessmentIndexKey(userID string) string { return "USER#" + userID + "#ASSESS_IDX" }
func AssessmentKey(userID, sessionID string) string {
	return "USER#" + userID + "#ASSESS#" + sessionID
}
func CrisisAlertKey(userID, alertID string) string {
	return "USER#" + userID + "#CRISIS#" + alertID
}

// Get loads the document stored under key into out. The second return is
// false when no document exists.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errors.New("repository: key must not be empty")
	}

	res, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("repository: Get %q: %w", key, err)
	}
	if res == nil || len(res.Item) == 0 {
		return false, nil
	}
	doc, ok := res.Item["doc"]
	if !ok {
		return false, fmt.Errorf("repository: Get %q: item missing document attribute", key)
	}
	if err := attributevalue.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("repository: Get %q: unmarshal document: %w", key, err)
	}
	return true, nil
}

// Set stores the document under key, replacing any existing value.
func (s *Store) Set(ctx context.Context, key string, doc any) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: key must not be empty")
	}

	av, err := attributevalue.Marshal(doc)
	if err != nil {
		return fmt.Errorf("repository: Set %q: marshal document: %w", key, err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: key},
			"doc":       av,
			"updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Set %q: %w", key, err)
	}
	return nil
}

// Delete removes the document under key. Deleting an absent key is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: key must not be empty")
	}

	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete %q: %w", key, err)
	}
	return nil
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key},
	}
}
