package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"student-helpdesk/internal/domain"
)

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func studentItem(pk string, s domain.Student) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: pk},
		"SK":         &types.AttributeValueMemberS{Value: skProfile},
		"studentId":  &types.AttributeValueMemberS{Value: s.ID},
		"name":       &types.AttributeValueMemberS{Value: s.Name},
		"identifier": &types.AttributeValueMemberS{Value: s.Identifier},
		"platform":   &types.AttributeValueMemberS{Value: string(s.Platform)},
		"createdAt":  &types.AttributeValueMemberS{Value: formatTime(s.CreatedAt)},
	}
}

func conversationItem(c domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(c.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: c.ID},
		"studentId":      &types.AttributeValueMemberS{Value: c.StudentID},
		"status":         &types.AttributeValueMemberS{Value: string(c.Status)},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(c.CreatedAt)},
		"updatedAt":      &types.AttributeValueMemberS{Value: formatTime(c.UpdatedAt)},
	}
}

func messageItem(m domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(m.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(m.Seq)},
		"messageId":      &types.AttributeValueMemberS{Value: m.ID},
		"conversationId": &types.AttributeValueMemberS{Value: m.ConversationID},
		"sender":         &types.AttributeValueMemberS{Value: string(m.Sender)},
		"content":        &types.AttributeValueMemberS{Value: m.Content},
		"topic":          &types.AttributeValueMemberS{Value: string(m.Topic)},
		"seq":            &types.AttributeValueMemberN{Value: strconv.FormatInt(m.Seq, 10)},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(m.CreatedAt)},
	}
}

func itemToStudent(item map[string]types.AttributeValue) (domain.Student, error) {
	id, err := strAttr(item, "studentId")
	if err != nil {
		return domain.Student{}, err
	}
	identifier, err := strAttr(item, "identifier")
	if err != nil {
		return domain.Student{}, err
	}
	platform, err := strAttr(item, "platform")
	if err != nil {
		return domain.Student{}, err
	}
	name, _ := strAttr(item, "name") // allow empty
	created, _ := timeAttr(item, "createdAt")
	return domain.Student{
		ID:         id,
		Name:       name,
		Identifier: identifier,
		Platform:   domain.Platform(platform),
		CreatedAt:  created,
	}, nil
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Conversation{}, err
	}
	studentID, _ := strAttr(item, "studentId")
	created, _ := timeAttr(item, "createdAt")
	updated, _ := timeAttr(item, "updatedAt")
	return domain.Conversation{
		ID:        id,
		StudentID: studentID,
		Status:    domain.ConversationStatus(status),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	seq, err := int64Attr(item, "seq")
	if err != nil {
		return domain.Message{}, err
	}
	id, _ := strAttr(item, "messageId")
	convID, _ := strAttr(item, "conversationId")
	topic, _ := strAttr(item, "topic")
	created, _ := timeAttr(item, "createdAt")
	return domain.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         domain.Sender(sender),
		Content:        content,
		Topic:          domain.Topic(topic),
		CreatedAt:      created,
		Seq:            seq,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
