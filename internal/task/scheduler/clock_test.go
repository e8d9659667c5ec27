package scheduler

import (
	"testing"

	logx "hitgrab/pkg/logx"
)

func TestClockAddReplacesByName(t *testing.T) {
	c := NewClock("UTC", logx.Nop())
	if err := c.Add("tick", "@every 1s", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := c.Add("tick", "@midnight", func() {}); err != nil {
		t.Fatal(err)
	}
	es := c.Entries()
	if len(es) != 1 || es[0].Spec != "@midnight" {
		t.Fatalf("entries = %+v", es)
	}
}

func TestClockRejectsBadSpec(t *testing.T) {
	c := NewClock("", logx.Nop())
	if err := c.Add("bad", "not a spec", func() {}); err == nil {
		t.Fatal("expected parse error")
	}
	if err := c.Add("", "@hourly", func() {}); err == nil {
		t.Fatal("expected name error")
	}
}

func TestClockInvalidTimezoneFallsBack(t *testing.T) {
	c := NewClock("Not/AZone", logx.Nop())
	if c.Location() == nil {
		t.Fatal("nil location")
	}
}
