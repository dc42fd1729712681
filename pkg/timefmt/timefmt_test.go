package timefmt

import (
	"testing"
	"time"
)

func TestMinutesDisplaying(t *testing.T) {
	cases := map[int]string{
		100:  "01:40",
		1000: "16:40",
		0:    "00:00",
		59:   "00:59",
	}
	for in, want := range cases {
		if got := MinutesDisplaying(in); got != want {
			t.Fatalf("MinutesDisplaying(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTimeDisplay(t *testing.T) {
	ts := time.UnixMilli(1000).In(time.FixedZone("CET", 2*60*60))
	if got := TimeDisplay(ts); got != "02:00, 1/1/1970" {
		t.Fatalf("unexpected display %q", got)
	}
}

func TestDateDisplayDefaultsToToday(t *testing.T) {
	if DateDisplay(time.Time{}) != DateDisplay(time.Now()) {
		t.Fatal("zero time should render today's date")
	}
}
