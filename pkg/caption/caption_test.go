package caption

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFallback(t *testing.T) *Fallback {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	f := NewFallback(loc)
	f.now = func() time.Time { return time.Date(2025, 11, 3, 10, 0, 0, 0, loc) }
	return f
}

func TestFallbackEmptyCaption(t *testing.T) {
	res := fixedFallback(t).Transform(context.Background(), "   ", "bar_y", "")

	assert.Equal(t, Result{Title: UntitledEvent, Description: NoDescription}, res)
}

func TestTitleFromCaption(t *testing.T) {
	long := strings.Repeat("palavra ", 20)

	tests := []struct {
		name     string
		caption  string
		username string
		want     string
	}{
		{"first line only", "noite de samba\nsexta 20h no deck", "deck", "Noite de samba"},
		{"leading hashtag stripped", "#promo Happy hour com chopp gelado", "", "Happy hour com chopp gelado"},
		{"leading mention stripped", "@deck_sportbar apresenta show ao vivo", "", "Apresenta show ao vivo"},
		{"decoration stripped", "🎉🎉 Festa de aniversário do bar", "", "Festa de aniversário do bar"},
		{"too short uses username", "#tag ok", "deck_sportbar", "Evento em Deck Sportbar"},
		{"too short without username", "🎉", "", UntitledEvent},
		{"empty", "", "deck", "Evento em @deck"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFromCaption(tt.caption, tt.username))
		})
	}

	t.Run("word boundary within 60 runes", func(t *testing.T) {
		title := TitleFromCaption(long, "")
		assert.LessOrEqual(t, utf8.RuneCountInString(title), 60)
		assert.False(t, strings.HasSuffix(title, " "))
	})

	t.Run("single huge word is truncated", func(t *testing.T) {
		title := TitleFromCaption(strings.Repeat("a", 80), "")
		assert.Equal(t, 60, utf8.RuneCountInString(title))
		assert.True(t, strings.HasSuffix(title, "..."))
	})
}

func TestFallbackDescriptionAndLocation(t *testing.T) {
	f := fixedFallback(t)
	caption := "Noite de samba\nMúsica ao vivo a noite toda\n📍 Deck Sport Bar, Av. Brasil 10"

	res := f.Transform(context.Background(), caption, "deck", "")

	assert.Equal(t, "Noite de samba", res.Title)
	assert.Equal(t, "Música ao vivo a noite toda\n📍 Deck Sport Bar, Av. Brasil 10", res.Description)
	assert.Equal(t, "Deck Sport Bar, Av. Brasil 10", res.Location)
}

func TestFallbackMentionLocation(t *testing.T) {
	f := fixedFallback(t)

	res := f.Transform(context.Background(), "Show hoje com @deck e @banda_x.", "deck", "")
	assert.Equal(t, "@banda_x", res.Location)

	res = f.Transform(context.Background(), "Show hoje", "deck", "")
	assert.Empty(t, res.Location)
	assert.Equal(t, "Show hoje", res.Description)
}

func TestFallbackDates(t *testing.T) {
	f := fixedFallback(t)
	loc := f.loc

	tests := []struct {
		name    string
		caption string
		ocr     string
		want    *time.Time
	}{
		{"day and month", "Festa sexta 21/11", "", ptr(time.Date(2025, 11, 21, 20, 0, 0, 0, loc))},
		{"full date with hour", "Show 10/12/2025 às 22h30", "", ptr(time.Date(2025, 12, 10, 22, 30, 0, 0, loc))},
		{"two digit year", "Show 05/01/26", "", ptr(time.Date(2026, 1, 5, 20, 0, 0, 0, loc))},
		{"date from ocr", "Vem aí", "SÁBADO 15/11 18H", ptr(time.Date(2025, 11, 15, 18, 0, 0, 0, loc))},
		{"impossible date", "Dia 31/02", "", nil},
		{"no date", "Happy hour", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Transform(context.Background(), tt.caption, "deck", tt.ocr)
			if tt.want == nil {
				assert.Nil(t, res.Date)
				return
			}
			require.NotNil(t, res.Date)
			assert.True(t, tt.want.Equal(*res.Date), "got %s", res.Date)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 5))
	assert.Equal(t, "ção...", Truncate("çãoçãoção", 6))
}

func ptr(t time.Time) *time.Time { return &t }
