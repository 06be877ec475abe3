// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
)

// statusInterval is the period at which task states are polled for
// status display.
var statusInterval = time.Second

// stateCounts is a snapshot of the counts of tasks in the states that we
// display in status.
type stateCounts struct {
	idle    int
	running int
	done    int
	lost    int
	error   int
}

// add adds n to the count for state. n may be negative.
func (c *stateCounts) add(state TaskState, n int) {
	switch state {
	case TaskInit, TaskWaiting:
		c.idle += n
	case TaskRunning:
		c.running += n
	case TaskOk:
		c.done += n
	case TaskLost:
		c.lost += n
	case TaskErr:
		c.error += n
	default:
		log.Panicf("unhandled task state: %v", state)
	}
}

func (c stateCounts) String() string {
	if c.lost > 0 || c.error > 0 {
		// Provide a more detailed view if there are tasks that are lost
		// or in error.
		return fmt.Sprintf("units idle/running/done(lost)/error: %d/%d/%d(%d)/%d",
			c.idle, c.running, c.done, c.lost, c.error)
	}
	return fmt.Sprintf("units idle/running/done: %d/%d/%d", c.idle, c.running, c.done)
}

// Monitor maintains a status task in group for each chromosome of the
// provided tasks, displaying the counts of its tasks by state. Monitor
// returns when ctx is done, after a final update.
func Monitor(ctx context.Context, group *status.Group, tasks []*Task) {
	if group == nil {
		return
	}
	var chroms []int
	byChrom := make(map[int][]*Task)
	display := make(map[int]*status.Task)
	for _, task := range tasks {
		if _, ok := byChrom[task.Chrom]; !ok {
			chroms = append(chroms, task.Chrom)
		}
		byChrom[task.Chrom] = append(byChrom[task.Chrom], task)
	}
	sort.Ints(chroms)
	for _, chrom := range chroms {
		display[chrom] = group.Start(fmt.Sprintf("chr%02d", chrom))
	}
	update := func() {
		var total stateCounts
		for _, chrom := range chroms {
			var counts stateCounts
			for _, task := range byChrom[chrom] {
				counts.add(task.State(), 1)
			}
			display[chrom].Print(counts)
			total.idle += counts.idle
			total.running += counts.running
			total.done += counts.done
			total.lost += counts.lost
			total.error += counts.error
		}
		group.Printf("%s", total)
	}
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		update()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			update()
			for _, chrom := range chroms {
				display[chrom].Done()
			}
			return
		}
	}
}
