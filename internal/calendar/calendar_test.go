package calendar

import (
	"testing"
	"time"

	"github.com/best-technologies/embedded-door-lock/internal/config"
	"github.com/best-technologies/embedded-door-lock/internal/model"
)

func testConfig() config.Config {
	return config.Config{
		WorkingDays:          "1,2,3,4,5",
		OfficeOpeningTime:    "09:00",
		OfficeClosingTime:    "17:00",
		LateThresholdMinutes: 15,
		CheckoutWindowStart:  "16:50",
		CheckoutWindowEnd:    "17:05",
	}
}

func TestNewPolicyRejectsMalformedConfig(t *testing.T) {
	cases := []func(*config.Config){
		func(c *config.Config) { c.WorkingDays = "1,2,9" },
		func(c *config.Config) { c.WorkingDays = "" },
		func(c *config.Config) { c.OfficeOpeningTime = "9am" },
		func(c *config.Config) { c.OfficeClosingTime = "25:00" },
		func(c *config.Config) { c.CheckoutWindowStart = "17:10" }, // after end
	}
	for i, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := NewPolicy(cfg); err == nil {
			t.Fatalf("case %d: expected malformed config to error", i)
		}
	}
}

func TestTimeToMinutes(t *testing.T) {
	minutes, err := TimeToMinutes("09:20")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if minutes != 560 {
		t.Fatalf("expected 560, got %d", minutes)
	}
	if _, err := TimeToMinutes("12:60"); err == nil {
		t.Fatalf("expected out-of-range minutes to error")
	}
}

func TestIsWorkingDay(t *testing.T) {
	policy, err := NewPolicy(testConfig())
	if err != nil {
		t.Fatalf("policy error: %v", err)
	}
	monday := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 1, 25, 12, 0, 0, 0, time.UTC)
	if !policy.IsWorkingDay(monday) {
		t.Fatalf("expected Monday to be a working day")
	}
	if policy.IsWorkingDay(sunday) {
		t.Fatalf("expected Sunday to be non-working")
	}
}

func TestInCheckoutWindow(t *testing.T) {
	policy, err := NewPolicy(testConfig())
	if err != nil {
		t.Fatalf("policy error: %v", err)
	}
	cases := map[string]bool{
		"16:49": false,
		"16:50": true,
		"17:00": true,
		"17:05": true,
		"17:06": false,
		"12:30": false,
	}
	for clock, expect := range cases {
		minutes, err := TimeToMinutes(clock)
		if err != nil {
			t.Fatalf("parse %s: %v", clock, err)
		}
		ts := time.Date(2026, 1, 26, minutes/60, minutes%60, 0, 0, time.UTC)
		if policy.InCheckoutWindow(ts) != expect {
			t.Fatalf("expected InCheckoutWindow(%s) == %v", clock, expect)
		}
	}
}

func TestMatchHolidayExactDate(t *testing.T) {
	holidays := []model.Holiday{
		{Name: "Company Day", Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
	}
	matched, name := MatchHoliday(holidays, time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	if !matched || name != "Company Day" {
		t.Fatalf("expected exact-date match, got %v %q", matched, name)
	}
	if matched, _ := MatchHoliday(holidays, time.Date(2027, 3, 10, 0, 0, 0, 0, time.UTC)); matched {
		t.Fatalf("non-recurring holiday must not match other years")
	}
}

func TestMatchHolidayRecurring(t *testing.T) {
	holidays := []model.Holiday{
		{Name: "Christmas", Date: time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), IsRecurring: true},
	}
	matched, name := MatchHoliday(holidays, time.Date(2025, 12, 25, 8, 0, 0, 0, time.UTC))
	if !matched || name != "Christmas" {
		t.Fatalf("expected recurring match across years, got %v %q", matched, name)
	}
	if matched, _ := MatchHoliday(holidays, time.Date(2025, 12, 26, 0, 0, 0, 0, time.UTC)); matched {
		t.Fatalf("recurring holiday must not match a different day")
	}
}
