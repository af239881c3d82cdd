package models_test

import (
	"testing"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      models.Message
		contains []string
		excludes []string
	}{
		{
			name:     "User message is escaped",
			msg:      models.Message{Role: models.RoleUser, Content: "<b>hola</b> **no**"},
			contains: []string{"&lt;b&gt;hola&lt;/b&gt;", "**no**", `class="message user"`},
		},
		{
			name:     "Assistant markdown is rendered",
			msg:      models.Message{Role: models.RoleAssistant, Content: "**Ventajas**\n\n- USD\n- MXN"},
			contains: []string{"<strong>Ventajas</strong>", "<li>USD</li>", `class="message assistant"`},
		},
		{
			name:     "Assistant raw html is dropped",
			msg:      models.Message{Role: models.RoleAssistant, Content: "<script>alert(1)</script>"},
			excludes: []string{"<script>"},
		},
		{
			name:     "Error flag adds class",
			msg:      models.Message{Role: models.RoleAssistant, Content: "Lo siento", Error: true},
			contains: []string{`class="message assistant error"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.RenderMessage(tt.msg)
			require.NoError(t, err)
			for _, c := range tt.contains {
				assert.Contains(t, got, c)
			}
			for _, e := range tt.excludes {
				assert.NotContains(t, got, e)
			}
		})
	}
}

func TestRenderConversation(t *testing.T) {
	conv := models.Conversation{
		ID:    "1",
		Title: "Propuesta <importaciones>",
		Messages: []models.Message{
			{ID: "1", Role: models.RoleUser, Content: "Hola"},
			{ID: "2", Role: models.RoleAssistant, Content: "¡Hola!"},
		},
	}

	got, err := models.RenderConversation(conv)
	require.NoError(t, err)
	assert.Contains(t, got, "<title>Propuesta &lt;importaciones&gt;</title>")
	assert.Contains(t, got, "<p>Hola</p>")
	assert.Contains(t, got, "¡Hola!")
}

func TestConversationSummary(t *testing.T) {
	conv := models.Conversation{
		ID:       "c1",
		Title:    "Hola",
		Messages: make([]models.Message, 4),
	}
	assert.Equal(t, models.ConversationSummary{ID: "c1", Title: "Hola", MessageCount: 4}, conv.Summary())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, models.RoleUser.Valid())
	assert.True(t, models.RoleAssistant.Valid())
	assert.False(t, models.Role("system").Valid())
	assert.False(t, models.Role("").Valid())
}
