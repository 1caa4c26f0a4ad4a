package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"student-helpdesk/internal/domain"
)

func TestRegistry_Send(t *testing.T) {
	wa := &fakeWhatsAppSender{}
	fb := &fakeMessengerSender{}
	reg := NewRegistry(NewWhatsApp(wa, "pn", "tok"), NewFacebook(fb, "page"))

	require.NoError(t, reg.Send(context.Background(), domain.PlatformWhatsApp, "1", "a"))
	require.Len(t, wa.calls, 1)

	require.NoError(t, reg.Send(context.Background(), domain.PlatformFacebook, "2", "b"))
	require.Equal(t, "2", fb.recipient)

	err := reg.Send(context.Background(), domain.Platform("telegram"), "3", "c")
	require.ErrorIs(t, err, ErrUnknownPlatform)

	a, err := reg.Adapter(domain.PlatformFacebook)
	require.NoError(t, err)
	require.Equal(t, domain.PlatformFacebook, a.Platform())
}
