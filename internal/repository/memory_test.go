package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"student-helpdesk/internal/domain"
)

func TestMemory_UpsertStudent_UniquePerIdentifierAndPlatform(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.UpsertStudent(ctx, "", "123", domain.PlatformWhatsApp)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultStudentName, a.Name)

	again, err := m.UpsertStudent(ctx, "Asha", "123", domain.PlatformWhatsApp)
	require.NoError(t, err)
	require.Equal(t, a.ID, again.ID)
	require.Equal(t, "Asha", again.Name, "default name is backfilled")

	kept, err := m.UpsertStudent(ctx, "Other", "123", domain.PlatformWhatsApp)
	require.NoError(t, err)
	require.Equal(t, "Asha", kept.Name, "a real name is never overwritten")

	fb, err := m.UpsertStudent(ctx, "FB-123", "123", domain.PlatformFacebook)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, fb.ID)
	require.Len(t, m.Students(), 2)
}

func TestMemory_ActiveConversationLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.GetOrCreateActiveConversation(ctx, "stu-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, first.Status)

	require.NoError(t, m.SetConversationStatus(ctx, first.ID, domain.StatusNeedsReview))
	same, err := m.GetOrCreateActiveConversation(ctx, "stu-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, same.ID)
	require.Equal(t, domain.StatusNeedsReview, same.Status)

	// escalation is idempotent
	require.NoError(t, m.SetConversationStatus(ctx, first.ID, domain.StatusNeedsReview))

	require.NoError(t, m.SetConversationStatus(ctx, first.ID, domain.StatusResolved))
	fresh, err := m.GetOrCreateActiveConversation(ctx, "stu-1")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, fresh.ID)
	require.Equal(t, domain.StatusOpen, fresh.Status)

	err = m.SetConversationStatus(ctx, first.ID, domain.StatusNeedsReview)
	require.ErrorIs(t, err, ErrConversationClosed)

	err = m.SetConversationStatus(ctx, "missing", domain.StatusResolved)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_RecentMessages_OrderedAndIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	conv, err := m.GetOrCreateActiveConversation(ctx, "stu-1")
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		sender := domain.SenderStudent
		if i%2 == 1 {
			sender = domain.SenderBot
		}
		_, err := m.AppendMessage(ctx, conv.ID, sender, fmt.Sprintf("m%d", i), domain.TopicGeneral)
		require.NoError(t, err)
	}

	first, err := m.RecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.Equal(t, "m5", first[0].Content)
	require.Equal(t, "m14", first[9].Content)
	for i := 1; i < len(first); i++ {
		require.Greater(t, first[i].Seq, first[i-1].Seq)
		require.False(t, first[i].CreatedAt.Before(first[i-1].CreatedAt))
	}

	second, err := m.RecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Equal(t, first, second)

	none, err := m.RecentMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemory_AppendMessage_UnknownConversation(t *testing.T) {
	_, err := NewMemory().AppendMessage(context.Background(), "nope", domain.SenderBot, "hi", domain.TopicGeneral)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ConcurrentFirstMessagesCreateOneStudentAndConversation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	convIDs := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := m.UpsertStudent(ctx, "Asha", "999", domain.PlatformWhatsApp)
			require.NoError(t, err)
			conv, err := m.GetOrCreateActiveConversation(ctx, st.ID)
			require.NoError(t, err)
			convIDs[i] = conv.ID
		}(i)
	}
	wg.Wait()

	students := m.Students()
	require.Len(t, students, 1)
	convs := m.Conversations(students[0].ID)
	require.Len(t, convs, 1)
	for _, id := range convIDs {
		require.Equal(t, convs[0].ID, id)
	}
}
