// Package caption turns a free-form post caption into event fields.
package caption

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// UntitledEvent is used when neither the caption nor the username yield a title
	UntitledEvent = "Evento sem título"
	// NoDescription is used when the caption is empty
	NoDescription = "Descrição não disponível"

	maxTitleRunes = 60
	defaultHour   = 20
)

// Result holds the fields extracted from a caption. Location is "" when none
// was detected.
type Result struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Date        *time.Time `json:"date,omitempty"`
	Location    string     `json:"location,omitempty"`
}

// Transformer extracts event fields from a caption. It never fails; a
// degraded result is returned instead.
type Transformer interface {
	Transform(ctx context.Context, caption, username, ocrText string) Result
}

// EventIn is the default title for a profile
func EventIn(username string) string {
	if username == "" {
		return UntitledEvent
	}
	return "Evento em @" + username
}

var (
	leadingTag = regexp.MustCompile(`^[@#]\w+\s*`)
	dayMonth   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	hourMark   = regexp.MustCompile(`\b(\d{1,2})[hH](\d{2})?\b`)
	mention    = regexp.MustCompile(`@([A-Za-z0-9._]+)`)
)

// Fallback is the heuristic transformer used when no LLM is configured or
// the LLM call fails.
type Fallback struct {
	loc *time.Location
	now func() time.Time
}

// NewFallback creates the heuristic transformer; dates are read in loc
func NewFallback(loc *time.Location) *Fallback {
	if loc == nil {
		loc = time.UTC
	}
	return &Fallback{loc: loc, now: time.Now}
}

// Transform implements Transformer
func (f *Fallback) Transform(_ context.Context, caption, username, ocrText string) Result {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return Result{Title: UntitledEvent, Description: NoDescription}
	}

	res := Result{
		Title:       TitleFromCaption(caption, username),
		Description: caption,
	}
	if _, rest, ok := strings.Cut(caption, "\n"); ok && strings.TrimSpace(rest) != "" {
		res.Description = strings.TrimSpace(rest)
	}
	res.Date = f.findDate(caption + "\n" + ocrText)
	res.Location = findLocation(caption, username)
	return res
}

// TitleFromCaption builds a title from the first caption line: leading tag
// stripped, first letter upper-cased, at most 60 runes.
func TitleFromCaption(caption, username string) string {
	text := strings.TrimSpace(caption)
	if text == "" {
		return EventIn(username)
	}
	if line, _, ok := strings.Cut(text, "\n"); ok {
		text = strings.TrimSpace(line)
	}
	text = leadingTag.ReplaceAllString(text, "")

	words := strings.Fields(text)
	var title string
	for _, w := range words {
		candidate := w
		if title != "" {
			candidate = title + " " + w
		}
		if utf8.RuneCountInString(candidate) > maxTitleRunes {
			break
		}
		title = candidate
	}
	if utf8.RuneCountInString(title) < 10 && len(words) > 0 {
		title = strings.Join(words[:min(len(words), 8)], " ")
	}

	title = strings.TrimSpace(strings.TrimLeftFunc(title, isDecoration))
	if utf8.RuneCountInString(title) < 3 {
		if username == "" {
			return UntitledEvent
		}
		return "Evento em " + prettyUsername(username)
	}

	r, size := utf8.DecodeRuneInString(title)
	title = string(unicode.ToUpper(r)) + title[size:]
	return Truncate(title, maxTitleRunes)
}

// Truncate cuts s to n runes, ending with "..." when shortened
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}

func isDecoration(r rune) bool {
	return unicode.Is(unicode.So, r) || unicode.Is(unicode.Sk, r) || r == '\uFE0F' || r == '\u200D'
}

// prettyUsername turns deck_sportbar into Deck Sportbar
func prettyUsername(username string) string {
	parts := strings.Fields(strings.ReplaceAll(username, "_", " "))
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToUpper(r)) + p[size:]
	}
	return strings.Join(parts, " ")
}

// findDate reads the first dd/mm[/yyyy] mention. Missing years default to
// the current one; missing hours to 20h.
func (f *Fallback) findDate(text string) *time.Time {
	m := dayMonth.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	now := f.now().In(f.loc)
	year := now.Year()
	if m[3] != "" {
		year, _ = strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}

	hour, minute := defaultHour, 0
	if hm := hourMark.FindStringSubmatch(text); hm != nil {
		if h, err := strconv.Atoi(hm[1]); err == nil && h < 24 {
			hour = h
			if hm[2] != "" {
				minute, _ = strconv.Atoi(hm[2])
			}
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, f.loc)
	if t.Day() != day {
		// 31/02 and friends
		return nil
	}
	return &t
}

// findLocation prefers a 📍 line, then the first mention of another account
func findLocation(caption, username string) string {
	for _, line := range strings.Split(caption, "\n") {
		if _, after, ok := strings.Cut(line, "📍"); ok {
			if loc := strings.TrimSpace(after); loc != "" {
				return loc
			}
		}
	}
	for _, m := range mention.FindAllStringSubmatch(caption, -1) {
		handle := strings.TrimRight(m[1], ".")
		if handle != "" && !strings.EqualFold(handle, username) {
			return "@" + handle
		}
	}
	return ""
}
