package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob(DefaultSweepSchedule, func() {}); err != nil {
		t.Errorf("Expected no error adding sweep schedule, got %v", err)
	}
}

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected an error for an invalid cron expression")
	}
	// Six fields do not fit the standard 5-field parser.
	if err := s.AddJob("0 */30 * * * *", func() {}); err == nil {
		t.Error("Expected an error for a 6-field expression")
	}
}
