package session

// NoticeKind classifies a user-facing notification.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeWarning
	NoticeError
	// NoticeEditRequest asks the authority holder to approve or reject
	// Notice.MemberID.
	NoticeEditRequest
	// NoticeChat is a chat line from Notice.MemberName. Message is the text
	// as sent.
	NoticeChat
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeSuccess:
		return "success"
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	case NoticeEditRequest:
		return "edit-request"
	case NoticeChat:
		return "chat"
	default:
		return "unknown"
	}
}

// Notice is a toast-style message for the user.
type Notice struct {
	Kind       NoticeKind
	Message    string
	MemberID   string
	MemberName string
}

// JoinFailedMessage is raised when joining gives up on the transport.
const JoinFailedMessage = "Connection error. Please refresh and try again."

// Observer receives session output. Calls are made after the session lock
// is released, from whichever goroutine caused the change.
type Observer interface {
	StateChanged(s State)
	Notice(n Notice)
	CursorsChanged(cursors []RemoteCursor)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) StateChanged(State)            {}
func (NopObserver) Notice(Notice)                 {}
func (NopObserver) CursorsChanged([]RemoteCursor) {}
