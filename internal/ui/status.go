package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/qmx/internal/models"
)

var labelStyle = lipgloss.NewStyle().Width(14)

// CredentialStatus is what the CLI reports about a stored credential.
type CredentialStatus struct {
	MusicID    int64
	LoginType  int
	Expired    bool
	CanRefresh bool
	ExpiresAt  int64 // unix seconds, 0 when unknown
}

// LoginTypeName names a tmeLoginType value.
func LoginTypeName(lt int) string {
	switch lt {
	case models.LoginTypePhone:
		return "phone"
	case models.LoginTypeWX:
		return "wx"
	case models.LoginTypeQQ:
		return "qq"
	case models.LoginTypeMobile:
		return "mobile"
	}
	return fmt.Sprintf("type %d", lt)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

// RenderCredential renders s as aligned label/value lines under a title.
func RenderCredential(p *Palette, s CredentialStatus) string {
	state := p.OK("valid")
	if s.Expired {
		state = p.Err("expired")
	}

	refresh := p.Warn("no")
	if s.CanRefresh {
		refresh = p.OK("yes")
	}

	lines := []string{
		p.Title("Credential"),
		row("Music ID", fmt.Sprint(s.MusicID)),
		row("Login type", LoginTypeName(s.LoginType)),
		row("Status", state),
		row("Refreshable", refresh),
	}
	if s.ExpiresAt > 0 {
		lines = append(lines, row("Expires", time.Unix(s.ExpiresAt, 0).UTC().Format(time.RFC3339)))
	}
	if s.Expired && !s.CanRefresh {
		lines = append(lines, p.Help("Run 'qmx login' to sign in again"))
	}
	return strings.Join(lines, "\n")
}

// RenderEvent styles one login event line.
func RenderEvent(p *Palette, ev models.LoginEvent, msg string) string {
	switch ev {
	case models.Confirmed:
		return p.OK("✓ " + msg)
	case models.Refused, models.Unknown:
		return p.Err("✗ " + msg)
	case models.Expired:
		return p.Warn("! " + msg)
	}
	return "  " + msg
}
