// Package presenter formats data for Discord display. Presenters convert
// domain objects into message content and components; handlers stay free of
// formatting concerns.
package presenter

import (
	"fmt"
	"strings"

	"github.com/focushall/focushall-bot/internal/domain/ledger"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/projections"
	"github.com/focushall/focushall-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIRMATION RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// ConfirmCredited is shown after a first confirmation.
func ConfirmCredited(xp int) string {
	return fmt.Sprintf("✅ Presence confirmed! **+%d XP**. Stay focused!", xp)
}

// ConfirmRepeat is shown when the user already confirmed this session.
func ConfirmRepeat() string {
	return "👍 You're already counted for this session."
}

// ConfirmStale is shown for an expired or unknown token.
func ConfirmStale() string {
	return "⌛ This check-in has expired. Wait for the next one."
}

// ConfirmNotInRoom is shown when the clicker is not in the voice room.
func ConfirmNotInRoom() string {
	return "🔇 You need to be in the voice room to confirm your presence."
}

// ══════════════════════════════════════════════════════════════════════════════
// FOCUS COMMAND RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// FocusAccepted acknowledges a started attendance check.
func FocusAccepted(roomID string) string {
	if roomID == "" {
		return "🎯 Attendance check started. Look for the check-in prompt!"
	}
	return fmt.Sprintf("🎯 Attendance check started for <#%s>.", roomID)
}

// FocusAlreadyRunning is shown when a session is already live for the room.
func FocusAlreadyRunning() string {
	return "⏱️ An attendance check is already running for this room."
}

// FocusRoomEmpty is shown when the room has no occupants to check.
func FocusRoomEmpty() string {
	return "🫥 That room is empty right now — nothing to check."
}

// FocusUnresolved is shown when no room could be determined.
func FocusUnresolved() string {
	return "❓ Couldn't figure out which room you mean. Try `/focus room:<voice channel>`."
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION ADMIN RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// EndSessionDone confirms a forced session end.
func EndSessionDone(roomID string) string {
	return fmt.Sprintf("🛑 Session for <#%s> ended. No one was penalized.", roomID)
}

// EndSessionNotFound is shown when the room has no live session.
func EndSessionNotFound() string {
	return "🤷 No live session for that room."
}

// NotAuthorized is shown for admin-only commands.
func NotAuthorized() string {
	return "🔒 You're not allowed to do that."
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS CARD
// ══════════════════════════════════════════════════════════════════════════════

// StatusCard renders a user's ledger stats plus recent room activity.
func StatusCard(stats *ledger.UserStats, recent []projections.RoomActivityEntry) string {
	var b strings.Builder

	b.WriteString("## 📊 Your FocusHall stats\n")
	if stats == nil {
		b.WriteString("No stats yet — join a focus room and confirm your first check-in!\n")
	} else {
		fmt.Fprintf(&b, "**XP:** %d\n", stats.XP)
		fmt.Fprintf(&b, "**Streak:** %s\n", formatStreak(stats.Streak, stats.BestStreak))
		if stats.Infractions > 0 {
			fmt.Fprintf(&b, "**Missed check-ins:** %d\n", stats.Infractions)
		}
		if !stats.LastConfirmedAt.IsZero() {
			fmt.Fprintf(&b, "**Last confirmed:** %s\n", timeutil.FormatRelative(stats.LastConfirmedAt))
		}
	}

	if len(recent) > 0 {
		b.WriteString("\n**Recent sessions in this room:**\n")
		for _, entry := range recent {
			fmt.Fprintf(&b, "• %s — %d confirmed", timeutil.FormatRelative(entry.ClosedAt), entry.ConfirmedCount)
			if entry.EnforcedCount > 0 {
				fmt.Fprintf(&b, ", %d removed", entry.EnforcedCount)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func formatStreak(current, best int) string {
	if current <= 0 {
		return "none"
	}
	s := fmt.Sprintf("%d day", current)
	if current != 1 {
		s += "s"
	}
	if best > current {
		s += fmt.Sprintf(" (best: %d)", best)
	}
	return s
}

