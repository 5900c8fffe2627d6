package report

import (
	"fmt"
	"strings"
)

// User-facing replies. The bot speaks Telegram's legacy Markdown.
const (
	msgNoMatch      = "❌ No match found on SofaScore for your request."
	msgRenderFailed = "❌ Could not load the match page."
	msgNoReferee    = "❌ No referee found on the match page (may not be published yet)."
)

// Greeting is sent once when the bot comes online.
const Greeting = "🤖 CornerDestroyerBot is online. Send a SofaScore link or type a fixture (e.g. \"Leeds Brighton\")."

// timestampLayout renders report times with the zone abbreviation.
const timestampLayout = "2006-01-02 15:04 MST"

// markdownEscaper escapes the characters legacy Markdown treats as
// entity delimiters.
var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}

// formatMissing is the reply for a referee with no usable stats row.
func formatMissing(name, key string) string {
	return fmt.Sprintf("🧑‍⚖️ *Referee:* %s\n(could not find `%s` in the database, check spelling or league.)",
		escape(name), key)
}

// Format renders a report as a chat message. Absent values show as N/A.
func Format(r *Report) string {
	s := r.Stats
	var b strings.Builder
	b.WriteString("🔥 *CornerDestroyerBot has spoken, here is the report!* 🔥\n")
	fmt.Fprintf(&b, "🏟️ League: %s\n\n", escape(s.League.String()))
	fmt.Fprintf(&b, "🧑‍⚖️ *Referee:* %s\n", escape(r.Referee))
	fmt.Fprintf(&b, "📊 Matches refereed: %s\n", escape(s.MatchesCount.String()))
	fmt.Fprintf(&b, "🟨 Cards/match: %s\n", escape(s.AvgCardsPerMatch.String()))
	fmt.Fprintf(&b, "📈 League avg cards/match: %s\n\n", escape(s.LeagueAvgCards.String()))
	fmt.Fprintf(&b, "🚩 Fouls/match: %s\n", escape(s.AvgFoulsPerMatch.String()))
	fmt.Fprintf(&b, "⚖️ Fouls/card: %s\n", escape(s.FoulsPerCardRatio.String()))
	fmt.Fprintf(&b, "🕒 %s", r.GeneratedAt.Format(timestampLayout))
	return b.String()
}
