// Package classify maps a raw fetch outcome to a single result mode.
package classify

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Mode is the classified result of one fetch.
type Mode int

const (
	Unknown Mode = iota
	Claimed
	LoggedOut
	Captcha
	TransientEmpty
	Throttled
	QueueFull
	NoMoreAvailable
	NotQualified
	Blocked
	NotFound
)

var modeNames = [...]string{
	Unknown:         "unknown",
	Claimed:         "claimed",
	LoggedOut:       "loggedOut",
	Captcha:         "captcha",
	TransientEmpty:  "transientEmpty",
	Throttled:       "throttled",
	QueueFull:       "queueFull",
	NoMoreAvailable: "noMoreAvailable",
	NotQualified:    "notQualified",
	Blocked:         "blocked",
	NotFound:        "notFound",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// Action is what the registry does for a mode.
type Action int

const (
	// ActionCount only updates counters.
	ActionCount Action = iota
	// ActionClaim records a claim and re-checks limits.
	ActionClaim
	// ActionPauseAll pauses every task until the account recovers.
	ActionPauseAll
	// ActionTempPause pauses every task until the claim queue drains.
	ActionTempPause
	// ActionDisableJob stops the job that produced the result.
	ActionDisableJob
	// ActionNotify raises a user notification.
	ActionNotify
)

func (m Mode) Action() Action {
	switch m {
	case Claimed:
		return ActionClaim
	case LoggedOut:
		return ActionPauseAll
	case Throttled, QueueFull:
		return ActionTempPause
	case NotQualified, Blocked, NotFound:
		return ActionDisableJob
	case Captcha:
		return ActionNotify
	}
	return ActionCount
}

// Outcome is the raw result of a fetch as the transport saw it.
type Outcome struct {
	// Err is set when no response was received.
	Err         error
	Status      int
	FinalURL    string
	ContentType string
	Body        []byte
}

// Result is a classified outcome.
type Result struct {
	Mode Mode
	// Detail is a short human-readable reason.
	Detail string
	// AssignmentID is set for Claimed when the final URL carries one.
	AssignmentID string
}

type apiMessage struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (m apiMessage) text() string {
	if s := strings.TrimSpace(m.Message); s != "" {
		return s
	}
	if s := strings.TrimSpace(m.Error); s != "" {
		return s
	}
	for _, e := range m.Errors {
		if s := strings.TrimSpace(e.Message); s != "" {
			return s
		}
	}
	return ""
}

// Classify maps o to exactly one Mode.
func Classify(o Outcome) Result {
	if o.Err != nil {
		return Result{Mode: Unknown, Detail: "no response: " + o.Err.Error()}
	}
	final := strings.ToLower(o.FinalURL)
	if isSignIn(final) || o.Status == http.StatusUnauthorized {
		return Result{Mode: LoggedOut, Detail: "signed out"}
	}
	switch o.Status {
	case http.StatusTooManyRequests:
		return Result{Mode: TransientEmpty, Detail: "page request rate exceeded"}
	case http.StatusNotFound:
		return Result{Mode: NotFound, Detail: "group not found"}
	case http.StatusRequestHeaderFieldsTooLarge:
		return Result{Mode: Throttled, Detail: "cookies too large"}
	}

	body := strings.TrimSpace(string(o.Body))
	if isHTML(o.ContentType, body) {
		return classifyPage(o, final, body)
	}
	if body == "" {
		return Result{Mode: TransientEmpty, Detail: "empty response"}
	}

	var msg apiMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Result{Mode: Unknown, Detail: "unreadable response"}
	}
	text := msg.text()
	if text == "" {
		if o.Status >= 200 && o.Status < 300 {
			return Result{Mode: TransientEmpty, Detail: "no message"}
		}
		return Result{Mode: Unknown, Detail: http.StatusText(o.Status)}
	}
	return classifyMessage(text)
}

func classifyPage(o Outcome, final, body string) Result {
	if id := assignmentID(o.FinalURL); id != "" {
		return Result{Mode: Claimed, Detail: "accepted", AssignmentID: id}
	}
	lower := strings.ToLower(body)
	if strings.Contains(lower, "request header or cookie too large") {
		return Result{Mode: Throttled, Detail: "cookies too large"}
	}
	if body == "" {
		return Result{Mode: TransientEmpty, Detail: "empty page"}
	}
	if o.Status < 200 || o.Status >= 300 {
		return Result{Mode: Unknown, Detail: http.StatusText(o.Status)}
	}
	if strings.Contains(final, "/projects/") || strings.Contains(lower, "captcha") {
		return Result{Mode: Captcha, Detail: "captcha page"}
	}
	return Result{Mode: Captcha, Detail: "unexpected page"}
}

// First match wins. "no more" must come before the not-found phrasing and
// the daily limit before the queue-full phrasing.
var messageRules = []struct {
	needles []string
	mode    Mode
	detail  string
}{
	{[]string{"page request rate", "exceeded the allowable"}, TransientEmpty, "page request rate exceeded"},
	{[]string{"there are no more", "no more of these", "no more tasks"}, NoMoreAvailable, "no more available"},
	{[]string{"daily", "per day", "24 hours", "reached the limit"}, Throttled, "account limit reached"},
	{[]string{"maximum number of", "queue is full", "exceeded the maximum"}, QueueFull, "claim queue full"},
	{[]string{"qualif", "do not meet", "not eligible"}, NotQualified, "not qualified"},
	{[]string{"blocked"}, Blocked, "blocked by requester"},
	{[]string{"could not find", "not found", "no longer available", "invalid group", "invalid project", "invalid hit set"}, NotFound, "not found"},
	{[]string{"sign in", "log in", "signed out"}, LoggedOut, "signed out"},
}

func classifyMessage(text string) Result {
	lower := strings.ToLower(text)
	for _, r := range messageRules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return Result{Mode: r.mode, Detail: r.detail}
			}
		}
	}
	return Result{Mode: Unknown, Detail: text}
}

func isSignIn(lowerURL string) bool {
	return strings.Contains(lowerURL, "/ap/signin") || strings.Contains(lowerURL, "/signin") ||
		strings.Contains(lowerURL, "/login")
}

func isHTML(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") {
		return false
	}
	if strings.Contains(ct, "html") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(body), "<!doctype") || strings.HasPrefix(body, "<")
}

func assignmentID(rawURL string) string {
	const key = "assignment_id="
	i := strings.Index(strings.ToLower(rawURL), key)
	if i < 0 {
		return ""
	}
	v := rawURL[i+len(key):]
	if j := strings.IndexAny(v, "&#"); j >= 0 {
		v = v[:j]
	}
	return v
}
