package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"student-helpdesk/internal/domain"
	"student-helpdesk/internal/id"
)

const (
	skProfile = "PROFILE#"
	skActive  = "ACTIVE#"
	skMeta    = "META#"
	skPrefix  = "MSG#"

	// maxConflictRetries bounds re-reads after losing a conditional write race.
	maxConflictRetries = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores students, conversations and messages in one DynamoDB table.
//
//	STUDENT#<platform>#<identifier> / PROFILE#     student identity (uniqueness)
//	STU#<studentID>                 / ACTIVE#      pointer to the active conversation
//	CONV#<conversationID>           / META#        conversation status
//	CONV#<conversationID>           / MSG#<seq>    messages, ordered by seq
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func identityPK(platform domain.Platform, identifier string) string {
	return "STUDENT#" + string(platform) + "#" + identifier
}

func studentPK(studentID string) string {
	return "STU#" + studentID
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK zero-pads seq so lexical sort key order equals numeric order.
func msgSK(seq int64) string {
	return fmt.Sprintf("%s%020d", skPrefix, seq)
}

// UpsertStudent returns the student for (identifier, platform), creating it
// when absent. A stored default name is backfilled with a real one.
func (c *Client) UpsertStudent(ctx context.Context, name, identifier string, platform domain.Platform) (domain.Student, error) {
	if strings.TrimSpace(identifier) == "" {
		return domain.Student{}, errors.New("repository: UpsertStudent: identifier is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultStudentName
	}
	pk := identityPK(platform, identifier)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		item, err := c.getItem(ctx, pk, skProfile)
		if err != nil {
			return domain.Student{}, fmt.Errorf("repository: UpsertStudent get: %w", err)
		}
		if item != nil {
			student, err := itemToStudent(item)
			if err != nil {
				return domain.Student{}, fmt.Errorf("repository: UpsertStudent unmarshal: %w", err)
			}
			if student.Name == domain.DefaultStudentName && name != domain.DefaultStudentName {
				if err := c.backfillName(ctx, pk, name); err != nil {
					return domain.Student{}, err
				}
				student.Name = name
			}
			return student, nil
		}

		student := domain.Student{
			ID:         id.NewUUID(),
			Name:       name,
			Identifier: identifier,
			Platform:   platform,
			CreatedAt:  c.now().UTC(),
		}
		_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                studentItem(pk, student),
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if err == nil {
			return student, nil
		}
		if !isConditionalCheckFailed(err) {
			return domain.Student{}, fmt.Errorf("repository: UpsertStudent put: %w", err)
		}
		// Another writer created the student first; read theirs.
	}
	return domain.Student{}, fmt.Errorf("repository: UpsertStudent: %w", ErrConflict)
}

func (c *Client) backfillName(ctx context.Context, pk, name string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(pk, skProfile),
		UpdateExpression:    aws.String("SET #n = :name"),
		ConditionExpression: aws.String("#n = :default"),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":    &types.AttributeValueMemberS{Value: name},
			":default": &types.AttributeValueMemberS{Value: domain.DefaultStudentName},
		},
	})
	if err != nil && !isConditionalCheckFailed(err) {
		return fmt.Errorf("repository: UpsertStudent backfill name: %w", err)
	}
	return nil
}

// GetOrCreateActiveConversation returns the student's open or needs_review
// conversation, or creates a new open one. The ACTIVE# pointer is swapped with
// a conditional transaction so concurrent callers converge on one conversation.
func (c *Client) GetOrCreateActiveConversation(ctx context.Context, studentID string) (domain.Conversation, error) {
	if strings.TrimSpace(studentID) == "" {
		return domain.Conversation{}, errors.New("repository: GetOrCreateActiveConversation: student id is required")
	}
	spk := studentPK(studentID)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		ptr, err := c.getItem(ctx, spk, skActive)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: GetOrCreateActiveConversation get pointer: %w", err)
		}

		stale := ""
		if ptr != nil {
			activeID, err := strAttr(ptr, "conversationId")
			if err != nil {
				return domain.Conversation{}, fmt.Errorf("repository: GetOrCreateActiveConversation decode pointer: %w", err)
			}
			conv, err := c.GetConversation(ctx, activeID)
			switch {
			case err == nil && conv.Status.Active():
				return conv, nil
			case err != nil && !errors.Is(err, ErrNotFound):
				return domain.Conversation{}, fmt.Errorf("repository: GetOrCreateActiveConversation: %w", err)
			}
			stale = activeID
		}

		now := c.now().UTC()
		conv := domain.Conversation{
			ID:        id.NewUUID(),
			StudentID: studentID,
			Status:    domain.StatusOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}

		pointerPut := &types.Put{
			TableName: aws.String(c.tableName),
			Item: map[string]types.AttributeValue{
				"PK":             &types.AttributeValueMemberS{Value: spk},
				"SK":             &types.AttributeValueMemberS{Value: skActive},
				"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
			},
		}
		if stale == "" {
			pointerPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
		} else {
			pointerPut.ConditionExpression = aws.String("conversationId = :stale")
			pointerPut.ExpressionAttributeValues = map[string]types.AttributeValue{
				":stale": &types.AttributeValueMemberS{Value: stale},
			}
		}

		_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					Put: &types.Put{
						TableName:           aws.String(c.tableName),
						Item:                conversationItem(conv),
						ConditionExpression: aws.String("attribute_not_exists(PK)"),
					},
				},
				{Put: pointerPut},
			},
		})
		if err == nil {
			return conv, nil
		}
		if !isTransactionCanceled(err) {
			return domain.Conversation{}, fmt.Errorf("repository: GetOrCreateActiveConversation create: %w", err)
		}
		// Lost the race for the pointer; re-read the winner.
	}
	return domain.Conversation{}, fmt.Errorf("repository: GetOrCreateActiveConversation: %w", ErrConflict)
}

// GetConversation loads a conversation's status record.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	item, err := c.getItem(ctx, convPK(conversationID), skMeta)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if item == nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation %q: %w", conversationID, ErrNotFound)
	}
	conv, err := itemToConversation(item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return conv, nil
}

// AppendMessage writes a message and bumps the conversation's updatedAt in
// one transaction. The message sequence comes from the snowflake generator;
// a sequence already taken by another writer is retried with a fresh one.
func (c *Client) AppendMessage(ctx context.Context, conversationID string, sender domain.Sender, content string, topic domain.Topic) (domain.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Message{}, errors.New("repository: AppendMessage: conversation id is required")
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		seq := id.NextSeq()
		msg := domain.Message{
			ID:             fmt.Sprintf("%d", seq),
			ConversationID: conversationID,
			Sender:         sender,
			Content:        content,
			Topic:          topic,
			CreatedAt:      c.now().UTC(),
			Seq:            seq,
		}

		_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					Put: &types.Put{
						TableName:           aws.String(c.tableName),
						Item:                messageItem(msg),
						ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
					},
				},
				{
					Update: &types.Update{
						TableName:           aws.String(c.tableName),
						Key:                 key(convPK(conversationID), skMeta),
						UpdateExpression:    aws.String("SET updatedAt = :now"),
						ConditionExpression: aws.String("attribute_exists(PK)"),
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":now": &types.AttributeValueMemberS{Value: formatTime(msg.CreatedAt)},
						},
					},
				},
			},
		})
		if err == nil {
			return msg, nil
		}
		if !conditionFailedAt(err, 0) {
			return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
		}
	}
	return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", ErrConflict)
}

// RecentMessages returns up to limit of the newest messages in chronological order.
func (c *Client) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
		ConsistentRead:   aws.Bool(true),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SetConversationStatus updates status and updatedAt. Escalating a resolved
// conversation is refused with ErrConversationClosed.
func (c *Client) SetConversationStatus(ctx context.Context, conversationID string, status domain.ConversationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("repository: SetConversationStatus: unknown status %q", status)
	}
	cond := "attribute_exists(PK)"
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
		":now":    &types.AttributeValueMemberS{Value: formatTime(c.now().UTC())},
	}
	if status == domain.StatusNeedsReview {
		cond += " AND #s <> :resolved"
		values[":resolved"] = &types.AttributeValueMemberS{Value: string(domain.StatusResolved)}
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(c.tableName),
		Key:                                 key(convPK(conversationID), skMeta),
		UpdateExpression:                    aws.String("SET #s = :status, updatedAt = :now"),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            map[string]string{"#s": "status"},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return fmt.Errorf("repository: SetConversationStatus %q: %w", conversationID, ErrNotFound)
		}
		return fmt.Errorf("repository: SetConversationStatus %q: %w", conversationID, ErrConversationClosed)
	}
	return fmt.Errorf("repository: SetConversationStatus: %w", err)
}

func (c *Client) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// conditionFailedAt reports whether err cancelled a transaction because the
// condition on item i failed.
func conditionFailedAt(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[i].Code) == "ConditionalCheckFailed"
}

func isTransactionCanceled(err error) bool {
	var tce *types.TransactionCanceledException
	return errors.As(err, &tce)
}
