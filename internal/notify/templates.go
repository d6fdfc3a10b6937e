package notify

import (
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
)

// message is the rendered content of one notice.
type message struct {
	Subject string
	Body    string
	SMS     string
}

func render(n queue.Notice, c Contact) (message, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "there"
	}
	switch n.Kind {
	case queue.NoticeQueued:
		return message{
			Subject: fmt.Sprintf("You're number %d in the queue", n.QueueNumber),
			Body: fmt.Sprintf(`Hi %s,

Your queue number is %d.
%s

We'll let you know as soon as it's your turn.`, name, n.QueueNumber, aheadLine(n.Ahead)),
			SMS: fmt.Sprintf("Queue #%d: %s", n.QueueNumber, aheadLine(n.Ahead)),
		}, nil
	case queue.NoticeFastTracked:
		reason := ""
		if n.Reason != "" {
			reason = fmt.Sprintf(" (%s)", n.Reason)
		}
		return message{
			Subject: fmt.Sprintf("Queue #%d has been prioritised", n.QueueNumber),
			Body: fmt.Sprintf(`Hi %s,

The clinic has moved queue number %d forward%s.
%s`, name, n.QueueNumber, reason, aheadLine(n.Ahead)),
			SMS: fmt.Sprintf("Queue #%d prioritised%s. %s", n.QueueNumber, reason, aheadLine(n.Ahead)),
		}, nil
	case queue.NoticeCalled:
		where := "Please proceed to the consultation room."
		switch {
		case n.Room != "" && n.DoctorName != "":
			where = fmt.Sprintf("Please proceed to room %s to see %s.", n.Room, n.DoctorName)
		case n.Room != "":
			where = fmt.Sprintf("Please proceed to room %s.", n.Room)
		}
		return message{
			Subject: fmt.Sprintf("It's your turn: queue #%d", n.QueueNumber),
			Body: fmt.Sprintf(`Hi %s,

Queue number %d is being called now.
%s`, name, n.QueueNumber, where),
			SMS: fmt.Sprintf("Queue #%d, it's your turn. %s", n.QueueNumber, where),
		}, nil
	default:
		return message{}, fmt.Errorf("notify: unknown notice kind %q", n.Kind)
	}
}

func aheadLine(ahead int) string {
	switch ahead {
	case 0:
		return "You're next."
	case 1:
		return "There is 1 patient ahead of you."
	default:
		return fmt.Sprintf("There are %d patients ahead of you.", ahead)
	}
}
