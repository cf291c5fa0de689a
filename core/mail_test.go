package core

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailMessage_Render(t *testing.T) {
	conf := NewTestConfig()

	t.Run("plain body", func(t *testing.T) {
		msg := &EmailMessage{To: []mail.Address{{Address: "a@b.cd"}}, Subject: "Hi", BodyStr: "Hello"}
		require.NoError(t, msg.Render(conf))
		assert.Equal(t, "Hello", msg.TextContent)
		assert.Empty(t, msg.HTMLContent)
		assert.True(t, msg.HasRecipients())
		assert.True(t, msg.HasContent())
	})

	t.Run("template", func(t *testing.T) {
		msg := &EmailMessage{
			To:           []mail.Address{{Address: "a@b.cd"}},
			TemplateName: "password_reset",
			TemplateData: map[string]string{
				"Name":      "Ada",
				"ResetURL":  "http://localhost:3000/reset-password?token=abc",
				"ExpiresIn": "1h0m0s",
			},
		}
		require.NoError(t, msg.Render(conf))
		assert.Contains(t, msg.TextContent, "Hi Ada,")
		assert.Contains(t, msg.TextContent, "reset-password?token=abc")
		assert.Contains(t, msg.HTMLContent, "reset-password?token=abc")
	})

	t.Run("no content", func(t *testing.T) {
		msg := &EmailMessage{}
		require.NoError(t, msg.Render(conf))
		assert.False(t, msg.HasRecipients())
		assert.False(t, msg.HasContent())
	})
}
