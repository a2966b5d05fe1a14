package email

import (
	"fmt"
	"strings"
	"time"
)

// AppointmentInfo is the slice of an appointment event needed to write to the
// client about it.
type AppointmentInfo struct {
	ClientName       string
	StartTime        time.Time
	EndTime          time.Time
	ConsultationType string
}

func salutation(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

func formatSlot(info AppointmentInfo) string {
	start := info.StartTime.UTC()
	end := info.EndTime.UTC()
	return fmt.Sprintf("%s from %s to %s UTC",
		start.Format("Monday, January 2 2006"),
		start.Format("15:04"),
		end.Format("15:04"),
	)
}

// RequestReceived is sent when a public booking request lands; the slot is not
// committed until the request is approved.
func RequestReceived(info AppointmentInfo) (subject, body string) {
	subject = "We received your appointment request"
	body = fmt.Sprintf(`%s

Thank you for your request. The slot you asked for:

    %s

is being held pending confirmation. You will receive another email once the
appointment is confirmed.
`, salutation(info.ClientName), formatSlot(info))
	return subject, body
}

// Booked is sent when an appointment is committed to the calendar, either by
// approval or by a paid consultation checkout.
func Booked(info AppointmentInfo) (subject, body string) {
	subject = "Your appointment is booked"
	what := "appointment"
	if strings.TrimSpace(info.ConsultationType) != "" {
		what = info.ConsultationType + " consultation"
	}
	body = fmt.Sprintf(`%s

Your %s is booked for:

    %s

If you need to reschedule, reply to this email.
`, salutation(info.ClientName), what, formatSlot(info))
	return subject, body
}
