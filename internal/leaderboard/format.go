package leaderboard

import (
	"fmt"
	"strings"
	"time"
)

var medals = []string{":first_place:", ":second_place:", ":third_place:"}

// formatAnnouncement builds the weekly publication message.
func formatAnnouncement(winners []Entry, roleID string, timedOut bool) string {
	var b strings.Builder
	b.WriteString("We're back with the weekly leaderboard update!\n")

	if len(winners) == 0 {
		b.WriteString("No active members found in the last 7 days.")
		return b.String()
	}

	fmt.Fprintf(&b, "Here are the top %d active members of the past week:\n", len(winners))
	for i, w := range winners {
		medal := fmt.Sprintf("**#%d**", i+1)
		if i < len(medals) {
			medal = medals[i]
		}
		fmt.Fprintf(&b, "%s <@%s> with **%d** messages\n", medal, w.AuthorID, w.Count)
	}

	fmt.Fprintf(&b, "\nAll winners have been granted the role <@&%s>.", roleID)
	if timedOut {
		b.WriteString("\n-# Counts are based on a capped scan and may undercount very busy weeks.")
	}
	return b.String()
}

// formatStats builds the read-only /stats reply.
func formatStats(st Stats, sourceChannelID string, now time.Time) string {
	period := fmt.Sprintf("%s to %s",
		now.AddDate(0, 0, -7).Format("Jan 2, 2006"),
		now.Format("Jan 2, 2006"))

	top := "No active members found in the last 7 days."
	if st.TopAuthorID != "" {
		top = fmt.Sprintf("<@%s> with **%d** messages.", st.TopAuthorID, st.TopCount)
	}

	msg := fmt.Sprintf(`📊 **Weekly Message Statistics**
Period: **%s** (last 7 days)

**Source Channel:** <#%s>

**Total Messages Sent:** **%d**
**Most Active Member:** %s`, period, sourceChannelID, st.TotalMessages, top)

	if st.TimedOut {
		msg += "\n-# Scan hit its cap; totals may undercount."
	}
	return msg
}
