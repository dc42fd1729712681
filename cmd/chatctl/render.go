package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/model/whois"
	"github.com/zhouzirui/domain-chat/backend/pkg/timefmt"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	whoisBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("135")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

func renderList(w io.Writer, category chat.Category, chats []*chat.Chat) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s chats (%d)", category, len(chats))))
	for _, c := range chats {
		fmt.Fprintf(w, "%s  %s  %s\n",
			titleStyle.Render(c.Title),
			idStyle.Render(c.ID),
			dateStyle.Render(displayTime(c.UpdatedAt)))
	}
}

func renderChat(w io.Writer, c *chat.Chat) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s · %s", c.Title, displayTime(c.CreatedAt))))
	for _, t := range c.Messages {
		fmt.Fprintln(w, renderTurn(t))
	}
}

func renderTurn(t chat.Turn) string {
	stamp := dateStyle.Render(displayTime(t.At()))
	switch t.Type() {
	case chat.TypeUser:
		return fmt.Sprintf("%s %s\n%s", userStyle.Render("you"), stamp, t.Text())
	case chat.TypeAssistant:
		return fmt.Sprintf("%s %s\n%s", assistantStyle.Render("assistant"), stamp, t.Text())
	case chat.TypeWhois:
		return fmt.Sprintf("%s\n%s", stamp, renderWhois(t.Text()))
	default:
		return fmt.Sprintf("%s %s\n%s", string(t.Type()), stamp, t.Text())
	}
}

func renderWhois(content string) string {
	var failure whois.ErrorPayload
	if err := json.Unmarshal([]byte(content), &failure); err == nil && failure.Error != "" {
		return whoisBox.Render(errorStyle.Render(failure.Error))
	}

	var record whois.Record
	if err := json.Unmarshal([]byte(content), &record); err != nil || record.DomainName == "" {
		return whoisBox.Render(prettyJSON(content))
	}

	rows := [][2]string{
		{"Domain", record.DomainName},
		{"Registrar", whois.OrNA(record.Registrar)},
		{"Registered", whois.OrNA(record.RegistrationDate)},
		{"Expires", whois.OrNA(record.ExpirationDate)},
		{"Age (days)", fmt.Sprint(record.EstimatedDomainAge)},
		{"Hostnames", whois.OrNA(record.Hostnames)},
		{"Registrant", whois.OrNA(record.RegistrantName)},
		{"Tech contact", whois.OrNA(record.TechContact)},
		{"Admin contact", whois.OrNA(record.AdminContact)},
		{"Email", whois.OrNA(record.ContactEmail)},
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-14s %s", row[0]+":", row[1])
	}
	return whoisBox.Render(b.String())
}

func displayTime(raw string) string {
	if raw == "" {
		return "-"
	}
	t, err := time.Parse(chat.TimeLayout, raw)
	if err != nil {
		return raw
	}
	return timefmt.TimeDisplay(t.Local())
}
