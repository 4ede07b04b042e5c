// Package scheduler runs the periodic billing sweeps on cron schedules.
//
// Every run takes a Redis lock named scheduler:lock:<job>, so when several
// scheduler instances are deployed only one of them charges renewals at a
// time. The others log the skip and wait for the next tick.
//
//	s := scheduler.New(redisClient, 30*time.Minute, logger)
//	s.Add(scheduler.Job{Name: "due_renewals", Spec: "@hourly", Run: processDue})
//	s.Start(ctx)
//	defer s.Stop()
package scheduler
