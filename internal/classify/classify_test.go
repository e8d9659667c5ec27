package classify

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Outcome
		want Mode
	}{
		{name: "transport error", in: Outcome{Err: errors.New("dial tcp: timeout")}, want: Unknown},
		{name: "claimed page", in: Outcome{Status: 200, ContentType: "text/html", FinalURL: "https://worker.mturk.com/projects/3X/tasks/9?assignment_id=ABC&ref=w", Body: []byte("<html>")}, want: Claimed},
		{name: "captcha page", in: Outcome{Status: 200, ContentType: "text/html; charset=utf-8", FinalURL: "https://worker.mturk.com/projects/3X/tasks", Body: []byte("<html>captcha</html>")}, want: Captcha},
		{name: "sign in redirect", in: Outcome{Status: 200, ContentType: "text/html", FinalURL: "https://www.amazon.com/ap/signin?x=1", Body: []byte("<html>")}, want: LoggedOut},
		{name: "unauthorized", in: Outcome{Status: 401}, want: LoggedOut},
		{name: "rate exceeded status", in: Outcome{Status: 429, ContentType: "application/json"}, want: TransientEmpty},
		{name: "rate exceeded message", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte(`{"message":"You have exceeded the allowable page request rate for this page."}`)}, want: TransientEmpty},
		{name: "empty json", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte(`{}`)}, want: TransientEmpty},
		{name: "empty body", in: Outcome{Status: 200, ContentType: "application/json"}, want: TransientEmpty},
		{name: "no more", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte(`{"message":"There are no more of these HITs available."}`)}, want: NoMoreAvailable},
		{name: "queue full", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte(`{"message":"You have exceeded the maximum number of HITs you can accept."}`)}, want: QueueFull},
		{name: "daily limit", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte(`{"message":"You have accepted the maximum number of HITs allowed in 24 hours."}`)}, want: Throttled},
		{name: "not qualified", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte(`{"message":"You do not meet the Qualification requirements."}`)}, want: NotQualified},
		{name: "blocked", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte(`{"message":"This requester has blocked you."}`)}, want: Blocked},
		{name: "not found status", in: Outcome{Status: 404}, want: NotFound},
		{name: "not found message", in: Outcome{Status: 422, ContentType: "application/json", Body: []byte(`{"error":"Could not find project"}`)}, want: NotFound},
		{name: "cookies too large", in: Outcome{Status: 400, ContentType: "text/html", Body: []byte("<html>Request Header Or Cookie Too Large</html>")}, want: Throttled},
		{name: "error page", in: Outcome{Status: 503, ContentType: "text/html", FinalURL: "https://worker.mturk.com/projects/3X/tasks", Body: []byte("<html>Service Unavailable</html>")}, want: Unknown},
		{name: "invalid group id", in: Outcome{Status: 422, ContentType: "application/json", Body: []byte(`{"message":"Invalid group id"}`)}, want: NotFound},
		{name: "invalid token", in: Outcome{Status: 422, ContentType: "application/json", Body: []byte(`{"message":"Invalid authenticity token"}`)}, want: Unknown},
		{name: "garbage", in: Outcome{Status: 200, ContentType: "application/json", Body: []byte("not json")}, want: Unknown},
		{name: "unmatched message", in: Outcome{Status: 500, ContentType: "application/json", Body: []byte(`{"message":"something odd"}`)}, want: Unknown},
	}
	for _, tt := range tests {
		got := Classify(tt.in)
		if got.Mode != tt.want {
			t.Fatalf("%s: got %s (%s), want %s", tt.name, got.Mode, got.Detail, tt.want)
		}
	}
}

func TestClaimedCarriesAssignmentID(t *testing.T) {
	r := Classify(Outcome{Status: 200, ContentType: "text/html", FinalURL: "https://worker.mturk.com/projects/3X/tasks/1?assignment_id=3AB9&foo=1", Body: []byte("<html>")})
	if r.AssignmentID != "3AB9" {
		t.Fatalf("assignment id = %q", r.AssignmentID)
	}
}

func TestModeActions(t *testing.T) {
	cases := map[Mode]Action{
		Claimed:         ActionClaim,
		LoggedOut:       ActionPauseAll,
		Throttled:       ActionTempPause,
		QueueFull:       ActionTempPause,
		NotQualified:    ActionDisableJob,
		Blocked:         ActionDisableJob,
		NotFound:        ActionDisableJob,
		Captcha:         ActionNotify,
		NoMoreAvailable: ActionCount,
		TransientEmpty:  ActionCount,
		Unknown:         ActionCount,
	}
	for m, want := range cases {
		if got := m.Action(); got != want {
			t.Fatalf("%s.Action() = %d, want %d", m, got, want)
		}
	}
	if Mode(99).String() != "unknown" {
		t.Fatal("out of range mode should print unknown")
	}
}
