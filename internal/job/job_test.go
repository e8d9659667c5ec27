package job

import "testing"

func TestStopReasonDisables(t *testing.T) {
	cases := map[StopReason]bool{
		ReasonOnce:     true,
		ReasonDaily:    true,
		ReasonFetched:  true,
		ReasonManual:   true,
		ReasonNoQual:   true,
		ReasonBlocked:  true,
		ReasonNotValid: false,
		ReasonExpired:  false,
		ReasonNone:     false,
		ReasonOneHit:   false,
	}
	for r, want := range cases {
		if got := r.Disables(); got != want {
			t.Fatalf("%q.Disables() = %v, want %v", r, got, want)
		}
	}
	if !ReasonSkipTotal.Skips() || ReasonOnce.Skips() {
		t.Fatal("skip classification is wrong")
	}
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{name: "group only", rec: Record{Descriptor: Descriptor{GroupID: "3ABC"}}},
		{name: "empty", rec: Record{}, wantErr: true},
		{name: "bad mode", rec: Record{Descriptor: Descriptor{GroupID: "3ABC"}, Policy: Policy{Search: "x"}}, wantErr: true},
		{name: "rid needs requester", rec: Record{Descriptor: Descriptor{GroupID: "3ABC", RequesterID: "ZZ"}, Policy: Policy{Search: SearchRequester}}, wantErr: true},
		{name: "rid ok", rec: Record{Descriptor: Descriptor{RequesterID: "A1B2"}, Policy: Policy{Search: SearchRequester}}},
		{name: "negative limit", rec: Record{Descriptor: Descriptor{GroupID: "3ABC"}, Policy: Policy{LimitFetches: -1}}, wantErr: true},
	}
	for _, tt := range tests {
		err := tt.rec.Validate()
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNameFallbacks(t *testing.T) {
	r := Record{Descriptor: Descriptor{GroupID: "G1"}}
	if r.Name() != "G1" {
		t.Fatalf("got %q", r.Name())
	}
	r.Title = "Transcribe"
	if r.Name() != "Transcribe" {
		t.Fatalf("got %q", r.Name())
	}
	r.Friendly = "mine"
	if r.Name() != "mine" {
		t.Fatalf("got %q", r.Name())
	}
}

func TestAcceptURL(t *testing.T) {
	got := AcceptURL("3XYZ")
	want := "https://worker.mturk.com/projects/3XYZ/tasks/accept_random?format=json"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
