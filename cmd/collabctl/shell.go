package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/codesynq/collab.go"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/session"
)

const help = `commands:
  :mode [freestyle|restricted]  switch edit mode (host only; no argument toggles)
  :request                      ask for edit permission
  :approve <member-id>          hand edit permission to a requester
  :reject <member-id>           decline a request
  :lang <name>                  change the document language
  :say <message>                send a chat message to the room
  :text                         print the document
  :who                          list members
  :link                         print the share link
  :quit                         leave the room and exit
any other line is appended to the document`

type shell struct {
	client *collab.Client
	buf    *session.Buffer
	out    *printer
}

func (sh *shell) start(ctx context.Context, command string, args []string, mode protocol.Mode) error {
	if sh.client.Solo() {
		sh.out.printf("relay unreachable, editing solo")
		return nil
	}

	switch command {
	case "host":
		if len(args) > 0 {
			return fmt.Errorf("host takes no arguments, got %q", args[0])
		}
		if _, err := sh.client.Host(ctx, mode); err != nil {
			return err
		}
		if link, err := sh.client.ShareLink(); err == nil {
			sh.out.printf("share: %s", link)
		}
		return nil
	case "join":
		if len(args) != 1 {
			return errors.New("join takes one room id or share link")
		}
		return sh.client.Join(ctx, args[0])
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// exec runs one input line and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, ":") {
		if !sh.buf.Type(line + "\n") {
			sh.out.printf("read-only: use :request to ask for edit permission")
		}
		return false
	}

	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	if len(fields) == 0 {
		return false
	}
	s := sh.client.Session

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "mode":
		if len(args) == 0 {
			err = s.ToggleMode(ctx)
		} else {
			err = s.SetMode(ctx, protocol.Mode(args[0]))
		}
	case "request":
		err = s.RequestEdit(ctx)
	case "approve", "reject":
		if len(args) != 1 {
			err = fmt.Errorf(":%s takes one member id", cmd)
			break
		}
		if cmd == "approve" {
			err = s.Approve(ctx, args[0])
		} else {
			err = s.Reject(ctx, args[0])
		}
	case "lang":
		if len(args) != 1 {
			err = errors.New(":lang takes one language name")
			break
		}
		err = s.SetLanguage(ctx, args[0])
	case "say":
		err = s.SendChat(ctx, strings.Join(args, " "))
	case "text":
		sh.out.printf("%s", sh.buf.Text())
	case "who":
		st := s.State()
		for _, m := range st.Members {
			sh.out.printf("%s", describeMember(st, m))
		}
	case "link":
		var link string
		if link, err = sh.client.ShareLink(); err == nil {
			sh.out.printf("share: %s", link)
		}
	case "help":
		sh.out.printf("%s", help)
	case "quit", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command :%s, try :help", cmd)
	}

	if err != nil {
		sh.out.printf("! %v", err)
	}
	return false
}

func describeMember(st session.State, m protocol.Member) string {
	var tags []string
	if m.ID == st.Self.ID {
		tags = append(tags, "you")
	}
	if m.IsHost {
		tags = append(tags, "host")
	}
	if st.Mode == protocol.Restricted && m.ID == st.CurrentEditor {
		tags = append(tags, "editing")
	}
	if len(tags) == 0 {
		return fmt.Sprintf("%s (%s)", m.Name, m.ID)
	}
	return fmt.Sprintf("%s (%s) [%s]", m.Name, m.ID, strings.Join(tags, ", "))
}

// printer is the session Observer for the terminal. State changes are
// printed only when the visible summary changes.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

var _ session.Observer = (*printer)(nil)

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) StateChanged(st session.State) {
	summary := summarize(st)

	p.mu.Lock()
	defer p.mu.Unlock()
	if summary == p.last {
		return
	}
	p.last = summary
	fmt.Fprintln(p.w, summary)
}

func summarize(st session.State) string {
	if !st.Active() {
		return "= solo"
	}
	access := "read-only"
	if st.Writable() {
		access = "writable"
	}
	s := fmt.Sprintf("= %s room %s, %s, %d members, %s", strings.ToLower(st.Phase.String()), st.RoomID, st.Mode, len(st.Members), access)
	if st.Mode == protocol.Restricted && st.CurrentEditor != "" {
		s += ", editor " + st.CurrentEditor
	}
	return s
}

func (p *printer) Notice(n session.Notice) {
	switch n.Kind {
	case session.NoticeEditRequest:
		p.printf("[%s] %s (:approve %s or :reject %s)", n.Kind, n.Message, n.MemberID, n.MemberID)
	case session.NoticeChat:
		p.printf("[%s] %s: %s", n.Kind, n.MemberName, n.Message)
	default:
		p.printf("[%s] %s", n.Kind, n.Message)
	}
}

func (p *printer) CursorsChanged(cursors []session.RemoteCursor) {
	for _, c := range cursors {
		p.printf("@ %s at %d:%d", c.MemberName, c.Line+1, c.Ch+1)
	}
}

