package migrator

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/dmitrijs2005/gophkeys/internal/models"
)

func TestProperty_StatusNeverLeavesCompleted(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		e := newEnv(t, WithStaleTimeout(time.Minute))
		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"begin", "finish", "reset", "run", "wait"}), 1, 30).Draw(rt, "ops")

		prev := models.MigrationNotStarted
		for _, op := range ops {
			var err error
			switch op {
			case "begin":
				_, err = e.m.BeginMigration(ctx, "u")
			case "finish":
				_, err = e.m.FinishMigration(ctx, "u")
			case "reset":
				_, err = e.m.ResetMigration(ctx, "u")
			case "run":
				_, err = e.m.Run(ctx, "u")
			case "wait":
				e.clock = e.clock.Add(2 * time.Minute)
			}
			if err != nil {
				rt.Fatalf("%s: %v", op, err)
			}

			st, err := e.m.GetStatus(ctx, "u")
			if err != nil {
				rt.Fatalf("GetStatus: %v", err)
			}
			if prev == models.MigrationCompleted && st != models.MigrationCompleted {
				rt.Fatalf("%s moved status from COMPLETED to %s", op, st)
			}
			if op != "reset" && st < prev {
				rt.Fatalf("%s moved status backwards: %s -> %s", op, prev, st)
			}
			prev = st
		}
	})
}
