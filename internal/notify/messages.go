package notify

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/dinner-waitlist/internal/waitlist"
)

const (
	TemplateSignupReceived   = "signup-received.html"
	TemplateSeatConfirmation = "seat-confirmation.html"
	TemplateSeatConfirmed    = "seat-confirmed.html"
)

// ConfirmLink builds the link the confirmation endpoint accepts:
// <base>/dinners/<event>/confirm?id=<response>&email=<email>&token=<token>
func ConfirmLink(baseURL string, eventID, responseID int64, email, token string) string {
	q := "id=" + url.QueryEscape(strconv.FormatInt(responseID, 10)) +
		"&email=" + url.QueryEscape(email) +
		"&token=" + url.QueryEscape(token)
	return fmt.Sprintf("%s/dinners/%d/confirm?%s", strings.TrimRight(baseURL, "/"), eventID, q)
}

func Invitation(ev waitlist.Event, r waitlist.Response, link string) Message {
	return Message{
		To:      r.Email,
		Subject: fmt.Sprintf("Confirm your participation in the %s event.", ev.Title),
		Text: fmt.Sprintf("We reserved a slot in the %s event for you. Confirm your participation by clicking on the link below. %s",
			ev.Title, link),
		Template: TemplateSeatConfirmation,
		Vars: map[string]any{
			"title": ev.Title,
			"name":  r.Name,
			"link":  link,
		},
	}
}

func SignupReceived(ev waitlist.Event, r waitlist.Response) Message {
	return Message{
		To:      r.Email,
		Subject: fmt.Sprintf("We received your signup for the %s event", ev.Title),
		Text: fmt.Sprintf("We received your signup for the %s event. You'll get an email to confirm your participation once we checked availability.",
			ev.Title),
		Template: TemplateSignupReceived,
		Vars: map[string]any{
			"title": ev.Title,
			"name":  r.Name,
			"date":  FormatDate(ev.Date),
		},
	}
}

func SeatConfirmed(ev waitlist.Event, r waitlist.Response) Message {
	return Message{
		To:       r.Email,
		Subject:  "Thank you for confirming",
		Text:     fmt.Sprintf("Thank you for confirming your participation in the %s event.", ev.Title),
		Template: TemplateSeatConfirmed,
		Vars: map[string]any{
			"title": ev.Title,
			"name":  r.Name,
			"date":  FormatDate(ev.Date),
			"price": ev.Price,
		},
	}
}

// FormatDate renders "18th of October 2026".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%s of %s %d", ordinal(t.Day()), t.Month(), t.Year())
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}
